package cli

import "time"

// The flags below are the definitions that a command can declare. Each one
// describes a flag read back through the method of Flags with the same name.

// StringFlag defines a flag with a string value.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    string
}

// Flag implements cli.Flag.
func (StringFlag) Flag() {}

// PathFlag defines a flag with the path of a file or a folder.
//
// - implements cli.Flag
type PathFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    string
}

// Flag implements cli.Flag.
func (PathFlag) Flag() {}

// StringSliceFlag defines a flag that can be repeated to get several strings.
//
// - implements cli.Flag
type StringSliceFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    []string
}

// Flag implements cli.Flag.
func (StringSliceFlag) Flag() {}

// DurationFlag defines a flag with a value like 1h30m.
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    time.Duration
}

// Flag implements cli.Flag.
func (DurationFlag) Flag() {}

// IntFlag defines a flag with an integer value, like an identifier.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    int
}

// Flag implements cli.Flag.
func (IntFlag) Flag() {}

// BoolFlag defines a switch.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    bool
}

// Flag implements cli.Flag.
func (BoolFlag) Flag() {}
