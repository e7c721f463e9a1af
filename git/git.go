// Package git obtains kernel source trees for Kconfig parsing by shallow
// cloning (or updating) a git repository with the system git binary.
package git

import (
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/utils"
)

type Operations interface {
	CloneOrPull(url, repoPath, branch string) error
}

type Config struct {
}

// CloneOrPull makes repoPath hold a checkout of url at branch, shallow
// cloning on first use and pulling afterwards.
func (gc Config) CloneOrPull(url, repoPath, branch string) error {
	exists, err := utils.Exists(filepath.Join(repoPath, ".git"))
	if err != nil {
		return err
	}

	if exists {
		log.Println("git pull")
		if err := pull(url, repoPath, branch); err != nil {
			return xerrors.Errorf("git pull error: %w", err)
		}
		return nil
	}

	if err = os.MkdirAll(repoPath, 0700); err != nil {
		return err
	}
	if err := clone(url, repoPath, branch); err != nil {
		return xerrors.Errorf("git clone error: %w", err)
	}
	return nil
}

func clone(url, repoPath, branch string) error {
	commandAndArgs := []string{
		"clone",
		"--depth",
		"1",
		url,
		repoPath,
	}
	if branch != "" {
		commandAndArgs = append(commandAndArgs, "-b", branch)
	}
	cmd := exec.Command("git", commandAndArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("failed to clone: %w", err)
	}
	return nil
}

func pull(url, repoPath, branch string) error {
	commandArgs := generateGitArgs(repoPath)

	remoteCmd := []string{
		"remote",
		"get-url",
		"--push",
		"origin",
	}
	output, err := utils.Exec("git", append(commandArgs, remoteCmd...))
	if err != nil {
		return xerrors.Errorf("error in git remote get-url: %w", err)
	}
	remoteURL := strings.TrimSpace(output)
	if remoteURL != url {
		return xerrors.Errorf("remote url is %s, target is %s", remoteURL, url)
	}

	pullCmd := []string{
		"pull",
		"origin",
	}
	if branch != "" {
		pullCmd = append(pullCmd, branch)
	}
	if _, err = utils.Exec("git", append(commandArgs, pullCmd...)); err != nil {
		return xerrors.Errorf("error in git pull: %w", err)
	}
	return nil
}

func generateGitArgs(repoPath string) []string {
	gitDir := filepath.Join(repoPath, ".git")
	return []string{
		"--git-dir",
		gitDir,
		"--work-tree",
		repoPath,
	}
}
