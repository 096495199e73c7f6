package limbs

import (
	"strconv"
	"strings"
)

// Command supports command-line interaction.  The first item is the command
// name; the rest are positional arguments or settings of the form
// "<key>=<value>".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

func splitSetting(arg string) (key, value string, isSetting bool) {
	elems := strings.SplitN(arg, "=", 2)
	if len(elems) != 2 || elems[0] == "" {
		return "", "", false
	}
	return elems[0], elems[1], true
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			if k, v, ok := splitSetting(arg); ok && k == key {
				return v, true
			}
		}
	}
	return
}

// IntParameter returns the integer value of a "key=value" setting, or def if the
// setting is absent.
func (cmd Command) IntParameter(key string, def int) (int, error) {
	s, found := cmd.Parameter(key)
	if !found {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewConfigError(key, "expected integer, got %q", s)
	}
	return v, nil
}

// CommandArgs sets a variadic argument set of string pointers to command
// arguments, ignoring setting arguments of the form "<key>=<value>".  If there
// aren't enough arguments to set a target, the target is set to the empty
// string.  It returns an 'overflow' slice that has all arguments beyond those
// needed for targets.
func (cmd Command) CommandArgs(targets ...*string) (overflow []string) {
	for _, target := range targets {
		*target = ""
	}
	if len(cmd) < 2 {
		return nil
	}
	var cur int
	for _, arg := range cmd[1:] {
		if _, _, isSetting := splitSetting(arg); isSetting {
			continue
		}
		if cur < len(targets) {
			*(targets[cur]) = arg
		} else {
			overflow = append(overflow, arg)
		}
		cur++
	}
	return overflow
}
