// Copyright 2015 Google Inc. All Rights Reserved.
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

package fuse

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/hashicorp/go-multierror"
	"github.com/jacobsa/timeutil"
	"github.com/kernelwire/fuse/internal/fusekernel"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"
)

// Bounds on Config.MaxWrite.
const (
	MinMaxWrite = 4 << 10
	MaxMaxWrite = 1 << 20
)

// ByteSize is a size in bytes that may be written as "128KiB" or "1MB" in a
// YAML config file.
type ByteSize uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}

	if n > math.MaxUint32 {
		return fmt.Errorf("size %q does not fit in 32 bits", raw)
	}

	*s = ByteSize(n)
	return nil
}

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

// Config controls what a Connection offers the kernel during the handshake
// and which collaborators it uses afterward.
//
// Every limit is an upper bound: the kernel's offer is clamped against it,
// never raised to it.
type Config struct {
	// The largest WRITE payload we accept. Must be in [MinMaxWrite,
	// MaxMaxWrite]. Also sizes the read buffer.
	MaxWrite ByteSize `yaml:"max_write"`

	// The most the kernel may read ahead.
	MaxReadahead ByteSize `yaml:"max_readahead"`

	// Limits on background requests (readahead, writeback) the kernel keeps
	// in flight.
	MaxBackground       uint16 `yaml:"max_background"`
	CongestionThreshold uint16 `yaml:"congestion_threshold"`

	// The timestamp granularity in nanoseconds, reported from 7.23 on.
	TimeGran uint32 `yaml:"time_gran"`

	// Capabilities offered to the kernel. Each is only used if the kernel
	// offers it too.
	EnableAsyncReads       bool `yaml:"async_reads"`
	EnableParallelDirOps   bool `yaml:"parallel_dirops"`
	EnableWritebackCache   bool `yaml:"writeback_cache"`
	EnableReaddirplus      bool `yaml:"readdirplus"`
	EnableAutoReaddirplus  bool `yaml:"readdirplus_auto"`
	EnableSymlinkCaching   bool `yaml:"cache_symlinks"`
	EnableAtomicTrunc      bool `yaml:"atomic_o_trunc"`
	EnablePosixLocks       bool `yaml:"posix_locks"`
	EnableFlockLocks       bool `yaml:"flock_locks"`
	EnableAutoInvalData    bool `yaml:"auto_inval_data"`
	EnableAsyncDIO         bool `yaml:"async_dio"`
	EnableExportSupport    bool `yaml:"export_support"`
	EnableIoctlDir         bool `yaml:"ioctl_dir"`
	EnableNoOpenSupport    bool `yaml:"no_open_support"`
	EnableNoOpendirSupport bool `yaml:"no_opendir_support"`
	EnableHandleKillpriv   bool `yaml:"handle_killpriv"`

	// Ask the kernel not to apply the umask, leaving it to the file system.
	DontMask bool `yaml:"dont_mask"`

	// CUSE only: the name of the character device to create under /dev, its
	// device number (zero lets the kernel pick), and whether ioctls are
	// forwarded without the kernel checking their argument encoding.
	DeviceName        string `yaml:"device_name"`
	DeviceMajor       uint32 `yaml:"device_major"`
	DeviceMinor       uint32 `yaml:"device_minor"`
	UnrestrictedIoctl bool   `yaml:"unrestricted_ioctl"`

	// Where to log. nil means the package logger, which writes to stderr and
	// shows debug messages when -fuse.debug is set.
	Logger log.Logger `yaml:"-"`

	// Where to register connection metrics. nil disables registration; the
	// metrics are still kept.
	MetricsRegisterer prometheus.Registerer `yaml:"-"`

	// The clock used to turn expiration times into kernel TTLs. nil means
	// timeutil.RealClock().
	Clock timeutil.Clock `yaml:"-"`

	// The parent of every op context handed out by ReadOp. nil means
	// context.Background().
	OpContext context.Context `yaml:"-"`

	// Source of message buffers. nil means a DefaultMessageProvider.
	MessageProvider MessageProvider `yaml:"-"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		MaxWrite:            128 << 10,
		MaxReadahead:        128 << 10,
		MaxBackground:       12,
		CongestionThreshold: 9,
		TimeGran:            1,
		EnableAsyncReads:    true,
		EnableAtomicTrunc:   true,
		EnableAsyncDIO:      true,
		EnableAutoInvalData: true,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig. A leading ~ in
// path is expanded. Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding %q: %w", path, err)
	}

	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MaxWrite < MinMaxWrite || c.MaxWrite > MaxMaxWrite {
		result = multierror.Append(result, fmt.Errorf(
			"max_write %v outside [%v, %v]",
			c.MaxWrite,
			ByteSize(MinMaxWrite),
			ByteSize(MaxMaxWrite)))
	}

	if c.CongestionThreshold > c.MaxBackground {
		result = multierror.Append(result, fmt.Errorf(
			"congestion_threshold %d exceeds max_background %d",
			c.CongestionThreshold,
			c.MaxBackground))
	}

	if c.DeviceName != "" {
		if err := validateDeviceName(c.DeviceName); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func validateDeviceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("device_name must be set to serve a character device")

	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("device_name %q contains a NUL byte", name)

	case len(cuseDeviceInfo(name)) > fusekernel.CuseInitInfoMax:
		return fmt.Errorf("device_name is %d bytes, too long", len(name))
	}

	return nil
}

// The NUL-terminated key=value list sent after the CUSE_INIT reply.
func cuseDeviceInfo(name string) string {
	return "DEVNAME=" + name + "\x00"
}

// The capability flags we offer the kernel.
func (c *Config) initFlags() fusekernel.InitFlags {
	flags := fusekernel.InitBigWrites | fusekernel.InitMaxPages

	set := func(enabled bool, f fusekernel.InitFlags) {
		if enabled {
			flags |= f
		}
	}

	set(c.EnableAsyncReads, fusekernel.InitAsyncRead)
	set(c.EnableParallelDirOps, fusekernel.InitParallelDirOps)
	set(c.EnableWritebackCache, fusekernel.InitWritebackCache)
	set(c.EnableReaddirplus, fusekernel.InitDoReaddirplus)
	set(c.EnableReaddirplus && c.EnableAutoReaddirplus, fusekernel.InitReaddirplusAuto)
	set(c.EnableSymlinkCaching, fusekernel.InitCacheSymlinks)
	set(c.EnableAtomicTrunc, fusekernel.InitAtomicTrunc)
	set(c.EnablePosixLocks, fusekernel.InitPosixLocks)
	set(c.EnableFlockLocks, fusekernel.InitFlockLocks)
	set(c.EnableAutoInvalData, fusekernel.InitAutoInvalData)
	set(c.EnableAsyncDIO, fusekernel.InitAsyncDIO)
	set(c.EnableExportSupport, fusekernel.InitExportSupport)
	set(c.EnableIoctlDir, fusekernel.InitHasIoctlDir)
	set(c.EnableNoOpenSupport, fusekernel.InitNoOpenSupport)
	set(c.EnableNoOpendirSupport, fusekernel.InitNoOpendirSupport)
	set(c.EnableHandleKillpriv, fusekernel.InitHandleKillpriv)
	set(c.DontMask, fusekernel.InitDontMask)

	return flags
}
