package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/kvstore"
)

// RunCliClient starts a simple REPL program over a ReplicatedStore. The
// commands look identical in both replication modes.
func RunCliClient(store *kvstore.ReplicatedStore) error {
	ctx := context.Background()
	fmt.Printf("<<<< tunakv (%v mode) >>>>\n", store.Mode())
	fmt.Println("Available commands: ")
	fmt.Println("\t GET <key>")
	fmt.Println("\t SET <key> <val>")
	fmt.Println("\t DEL <key>")
	fmt.Printf("\n\n")
	for {
		fmt.Printf("$ ")
		var command, key, val string
		if _, err := fmt.Scanf("%s", &command); err != nil {
			return err
		}
		switch strings.ToUpper(command) {
		case "GET":
			if _, err := fmt.Scanln(&key); err != nil {
				return err
			}
			val, _, err := store.Read(ctx, key)
			if errors.Is(err, common.ErrNotFound) {
				fmt.Printf("%s not found\n", key)
			} else if err != nil {
				fmt.Println(err)
			} else {
				fmt.Printf("%s = %s, OK\n", key, val)
			}
		case "SET":
			if _, err := fmt.Scanln(&key, &val); err != nil {
				return err
			}
			if _, err := store.Write(ctx, key, []byte(val)); err != nil {
				fmt.Println(err)
			} else {
				fmt.Printf("%s = %s, OK\n", key, val)
			}
		case "DEL":
			if _, err := fmt.Scanln(&key); err != nil {
				return err
			}
			if _, err := store.Delete(ctx, key); err != nil {
				fmt.Println(err)
			} else {
				fmt.Printf("%s deleted, OK\n", key)
			}
		default:
			fmt.Println("Incorrect command")
			fmt.Scanln()
		}
	}
}
