// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package gitindex drives the git repository backing the registry's
index. Every git invocation is scoped with "-C <repoRoot>" rather than
os.Chdir, since the worker pool runs many handlers concurrently and a
process-wide working directory would race between them.
*/
package gitindex

import (
	"bytes"
	"fmt"
	"os/exec"
)

// Driver wraps the git binary for one index repository.
type Driver struct {
	repoRoot string
}

// New returns a Driver rooted at repoRoot. It does not touch the
// filesystem; call Init to create the repository if it doesn't exist.
func New(repoRoot string) *Driver {
	return &Driver{repoRoot: repoRoot}
}

// Init runs "git init" in repoRoot. It is safe to call on an already
// initialized repository; git init is idempotent.
func (d *Driver) Init() error {
	return d.run("init")
}

// AddAndCommit stages relativePath and commits it with message. A
// no-op commit (nothing staged, or nothing changed) is tolerated
// rather than surfaced as an error, since append-only index writes
// never produce an empty diff in practice but config.json bootstrap on
// an already-initialized index might.
func (d *Driver) AddAndCommit(relativePath, message string) error {
	if err := d.run("add", relativePath); err != nil {
		return err
	}
	full := append([]string{"-C", d.repoRoot}, "commit", "-m", message, "--no-gpg-sign")
	cmd := exec.Command("git", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			// nothing staged to commit; treat as a successful no-op.
			return nil
		}
		return fmt.Errorf("git commit: %w: %s", err, stderr.String())
	}
	return nil
}

func (d *Driver) run(args ...string) error {
	full := append([]string{"-C", d.repoRoot}, args...)
	cmd := exec.Command("git", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return nil
}
