package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

func Die(msg string, code int) {
	_, _ = fmt.Fprintf(os.Stderr, "Error executing command: %s\n", msg)
	os.Exit(code)
}

func confirm(question string) (bool, error) {
	prm := promptui.Prompt{
		Label:     question,
		IsConfirm: true,
	}
	_, err := prm.Run()
	if err != nil {
		return false, err
	}
	return true, nil
}

func DieFmt(msg string, args ...interface{}) {
	Die(fmt.Sprintf(msg, args...), 1)
}

func DieErr(err error) {
	Die(err.Error(), 1)
}

// parseIndexDirs splits "<index>=<dir>" arguments, keeping first-seen index
// order. Repeating an index name appends another shard directory to it, so
// "logs=/d/0 logs=/d/1" describes a two-shard index.
func parseIndexDirs(args []string) ([]string, map[string][]string, error) {
	var order []string
	dirs := make(map[string][]string)
	for _, arg := range args {
		name, dir, ok := strings.Cut(arg, "=")
		if !ok || name == "" || dir == "" {
			return nil, nil, fmt.Errorf("expected <index>=<dir>, got %q", arg)
		}
		if _, seen := dirs[name]; !seen {
			order = append(order, name)
		}
		dirs[name] = append(dirs[name], dir)
	}
	return order, dirs, nil
}
