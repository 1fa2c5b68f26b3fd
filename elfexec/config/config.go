// Copyright 2026 The elfexec Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides basic infrastructure to set configuration settings
// for elfexec. Each setting is a field of Config with a `flag` tag naming
// the command line flag that sets it. Settings may also come from a TOML
// file given with -config; flags set on the command line take precedence.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/elfexec/elfexec/pkg/hostarch"
	"github.com/elfexec/elfexec/pkg/log"
)

// Config holds configuration that is not part of the command arguments.
type Config struct {
	// ConfigFile is the TOML file the other settings were merged from.
	ConfigFile string `flag:"config"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty. %PID% is
	// replaced with the process ID.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or json-k8s.
	LogFormat string `flag:"log-format"`

	// AlsoLogToStderr allows to send log messages to stderr in addition to
	// the log file.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Rename rewrites argv[0] and the thread name of the child with the
	// name of the loaded image.
	Rename bool `flag:"rename"`

	// ExecFn is the path reported to loaded images as AT_EXECFN. The image
	// path is used when empty.
	ExecFn string `flag:"execfn"`

	// PageSize overrides the page size used by plan dry runs. Zero means
	// the host page size.
	PageSize uint64 `flag:"page-size"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with flag values; flags given on the command line override it.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. %PID% is replaced by the process ID.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr in addition to -log.")

	// Flags that control how images are started.
	flagSet.Bool("rename", false, "rewrite argv[0] and the thread name of the child with the image name.")
	flagSet.String("execfn", "", "path reported to the image as AT_EXECFN, default is the image path.")
	flagSet.Uint64("page-size", 0, "page size used by plan dry runs, default is the host page size.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags, merged over the file named by -config if any.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if path := flagSet.Lookup("config").Value.String(); path != "" {
		if err := mergeFile(flagSet, path); err != nil {
			return nil, err
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// LoadFile reads a TOML file of flag values. Keys are flag names; values
// are scalars.
func LoadFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			vals[k] = v
		case bool:
			vals[k] = strconv.FormatBool(v)
		case int64:
			vals[k] = strconv.FormatInt(v, 10)
		default:
			return nil, fmt.Errorf("config file %q: key %q has unsupported value %v (%T)", path, k, v, v)
		}
	}
	return vals, nil
}

// mergeFile sets the flags named in the file at path, unless they were set
// on the command line.
func mergeFile(flagSet *flag.FlagSet, path string) error {
	vals, err := LoadFile(path)
	if err != nil {
		return err
	}
	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	// Apply in a stable order so errors are deterministic.
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("config file %q: %q cannot be set from a config file", path, name)
		}
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file %q: unknown flag %q", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := flagSet.Set(name, vals[name]); err != nil {
			return fmt.Errorf("config file %q: error setting flag %s=%q: %w", path, name, vals[name], err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.PageSize != 0 && !hostarch.ValidPageSize(c.PageSize) {
		return fmt.Errorf("invalid page size %d, must be a power of two of at least 4096", c.PageSize)
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("  %s: %s", st.Field(i).Name, getVal(obj.Field(i)))
	}
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
