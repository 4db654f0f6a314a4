package quorum

import "fmt"

// Config carries the replication factor and quorum sizes of the
// tunable-consistency path. N is the number of replicas holding each key,
// W the number of acknowledgements a write waits for, and R the number of
// responses a read waits for.
type Config struct {
	N int
	R int
	W int
}

// Validate rejects configurations whose read and write quorums are not
// guaranteed to intersect. With R+W > N every read quorum shares at least
// one replica with every committed write quorum, so a read always observes
// the latest acknowledged write (possibly alongside stale versions).
func (config Config) Validate() error {
	if config.N <= 0 {
		return fmt.Errorf("replication factor must be positive, got N=%d", config.N)
	}
	if config.R <= 0 || config.W <= 0 {
		return fmt.Errorf("quorum sizes must be positive, got R=%d, W=%d", config.R, config.W)
	}
	if config.R > config.N || config.W > config.N {
		return fmt.Errorf("quorum sizes cannot exceed replication factor (N=%d, R=%d, W=%d)",
			config.N, config.R, config.W)
	}
	if config.R+config.W <= config.N {
		return fmt.Errorf("read and write quorums must intersect, need R+W > N (N=%d, R=%d, W=%d)",
			config.N, config.R, config.W)
	}
	return nil
}
