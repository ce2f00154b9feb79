// Package protocol speaks the line-oriented text protocol of the transport
// firmware: it encodes commands and decodes status reports.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names understood by the firmware.
const (
	CmdForward   = "F"
	CmdBackward  = "B"
	CmdGoto      = "GOTO"
	CmdPage      = "PAGE"
	CmdNext      = "NEXT"
	CmdPrev      = "PREV"
	CmdMark      = "MARK"
	CmdReset     = "RESET"
	CmdSave      = "SAVE"
	CmdLoad      = "LOAD"
	CmdClear     = "CLEAR"
	CmdStatus    = "STATUS"
	CmdSetPage   = "SETPAGE"
	CmdSpeed     = "SPEED"
	CmdSync      = "SYNC"
	CmdStop      = "STOP"
	CmdSpeedUp   = "+"
	CmdSpeedDown = "-"
)

// Command is one request line. Arg is empty for bare commands.
type Command struct {
	Name string
	Arg  string
}

// String renders the command without the line terminator.
func (c Command) String() string {
	if c.Arg == "" {
		return c.Name
	}
	return c.Name + ":" + c.Arg
}

// Encode renders the command as it goes on the wire.
func (c Command) Encode() []byte {
	return []byte(c.String() + "\n")
}

// IsStatus reports whether the command asks for a full status report.
func (c Command) IsStatus() bool { return c.Name == CmdStatus }

func formatCm(cm float64) string {
	return strconv.FormatFloat(cm, 'f', -1, 64)
}

func Forward(steps int) Command  { return Command{Name: CmdForward, Arg: strconv.Itoa(steps)} }
func Backward(steps int) Command { return Command{Name: CmdBackward, Arg: strconv.Itoa(steps)} }
func Goto(page int) Command      { return Command{Name: CmdGoto, Arg: strconv.Itoa(page)} }
func Page(delta int) Command     { return Command{Name: CmdPage, Arg: strconv.Itoa(delta)} }
func Next() Command              { return Command{Name: CmdNext} }
func Prev() Command              { return Command{Name: CmdPrev} }
func Mark() Command              { return Command{Name: CmdMark} }
func Reset() Command             { return Command{Name: CmdReset} }
func Save() Command              { return Command{Name: CmdSave} }
func Load() Command              { return Command{Name: CmdLoad} }
func Clear() Command             { return Command{Name: CmdClear} }
func Status() Command            { return Command{Name: CmdStatus} }
func Stop() Command              { return Command{Name: CmdStop} }
func SpeedUp() Command           { return Command{Name: CmdSpeedUp} }
func SpeedDown() Command         { return Command{Name: CmdSpeedDown} }
func Speed(micros int) Command   { return Command{Name: CmdSpeed, Arg: strconv.Itoa(micros)} }
func SetPage(cm float64) Command { return Command{Name: CmdSetPage, Arg: formatCm(cm)} }
func Sync(cm float64) Command    { return Command{Name: CmdSync, Arg: formatCm(cm)} }

// ParseCommand parses one request line. Numeric arguments are checked
// against the command they belong to.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	name, arg, hasArg := strings.Cut(line, ":")
	name = strings.ToUpper(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch name {
	case CmdNext, CmdPrev, CmdMark, CmdReset, CmdSave, CmdLoad, CmdClear, CmdStatus, CmdStop, CmdSpeedUp, CmdSpeedDown:
		if hasArg {
			return Command{}, fmt.Errorf("%s takes no argument", name)
		}
		return Command{Name: name}, nil
	case CmdForward, CmdBackward, CmdGoto, CmdSpeed:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return Command{}, fmt.Errorf("%s needs a non-negative integer, got %q", name, arg)
		}
		return Command{Name: name, Arg: arg}, nil
	case CmdPage:
		if _, err := strconv.Atoi(arg); err != nil {
			return Command{}, fmt.Errorf("%s needs an integer, got %q", name, arg)
		}
		return Command{Name: name, Arg: arg}, nil
	case CmdSetPage, CmdSync:
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%s needs a number of centimetres, got %q", name, arg)
		}
		if name == CmdSetPage && v <= 0 {
			return Command{}, fmt.Errorf("%s needs a positive length, got %q", name, arg)
		}
		return Command{Name: name, Arg: arg}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", name)
}

// IntArg returns Arg as an integer.
func (c Command) IntArg() (int, error) {
	return strconv.Atoi(c.Arg)
}

// FloatArg returns Arg as a float.
func (c Command) FloatArg() (float64, error) {
	return strconv.ParseFloat(c.Arg, 64)
}
