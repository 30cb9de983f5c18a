package mover

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/marmos91/dittomover/pkg/template"
)

// Names of the buffer subdirectories.
const (
	CopyInProgressDir = "copy-in-progress"
	CopyCompleteDir   = "copy-complete"
	ReadyToMoveDir    = "ready-to-move"
)

// Timestamp layout bound to ${timestamp} in the incoming prefix.
const TimestampLayout = "20060102150405"

// Default timings, used for zero values in Config.
const (
	DefaultCheckInterval         = 60 * time.Second
	DefaultCheckIntervalInternal = 10 * time.Second
	DefaultQuietPeriod           = 300 * time.Second
	DefaultFailureInterval       = 1800 * time.Second
	DefaultMaxRetries            = 10
	DefaultScriptTimeout         = 600 * time.Second
)

// Dir is a directory with an optional free-space high water mark.
type Dir struct {
	Path            string
	HighwaterMarkKb int64
}

// Config configures a Mover.
type Config struct {
	// Incoming is scanned for new items
	Incoming Dir

	// Buffer holds the copy-in-progress, copy-complete and ready-to-move
	// stages. Its high water mark pauses the incoming stage.
	Buffer Dir

	// Outgoing is watched for free space; its high water mark pauses the
	// buffer stage. Path may be empty for remote targets.
	Outgoing Dir

	// ManualInterventionDir receives items that need an operator
	ManualInterventionDir string

	// ExtraCopyDir receives an immutable copy of every item (optional)
	ExtraCopyDir string

	// CheckInterval between scans of the incoming directory
	CheckInterval time.Duration

	// CheckIntervalInternal between scans of the buffer
	CheckIntervalInternal time.Duration

	// QuietPeriod an incoming item must stay unchanged before it is moved
	QuietPeriod time.Duration

	// FailureInterval is the wait between two transfer attempts
	FailureInterval time.Duration

	// MaxRetries bounds the retries of a retriable transfer failure
	MaxRetries int

	// IgnoredErrorsBeforeNotification silences flaky directory listings
	IgnoredErrorsBeforeNotification int

	// CleansingRegex selects files deleted from items in the buffer
	CleansingRegex string

	// ManualInterventionRegex selects items sent to ManualInterventionDir
	ManualInterventionRegex string

	// PrefixForIncoming is a template prepended to incoming item names.
	// ${timestamp} and ${host} are bound.
	PrefixForIncoming string

	// DataCompletedScript runs with the item path once an item is buffered
	DataCompletedScript string

	// DataCompletedScriptTimeout bounds the script
	DataCompletedScriptTimeout time.Duration

	// WatchEvents triggers scans on directory events
	WatchEvents bool
}

// applyDefaults fills zero intervals. A zero QuietPeriod or MaxRetries is
// kept as given.
func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckIntervalInternal <= 0 {
		c.CheckIntervalInternal = DefaultCheckIntervalInternal
	}
	if c.FailureInterval <= 0 {
		c.FailureInterval = DefaultFailureInterval
	}
	if c.DataCompletedScriptTimeout <= 0 {
		c.DataCompletedScriptTimeout = DefaultScriptTimeout
	}
}

// compiled holds the parsed forms of the Config strings.
type compiled struct {
	cleansing          *regexp.Regexp
	manualIntervention *regexp.Regexp
	prefix             *template.Template
	host               string
}

func (c *Config) compile() (*compiled, error) {
	if c.Incoming.Path == "" {
		return nil, fmt.Errorf("incoming directory is not specified")
	}
	if c.Buffer.Path == "" {
		return nil, fmt.Errorf("buffer directory is not specified")
	}

	out := &compiled{}
	var err error
	if c.CleansingRegex != "" {
		if out.cleansing, err = regexp.Compile(c.CleansingRegex); err != nil {
			return nil, fmt.Errorf("invalid cleansing regex: %w", err)
		}
	}
	if c.ManualInterventionRegex != "" {
		if c.ManualInterventionDir == "" {
			return nil, fmt.Errorf("manual intervention regex given without a manual intervention directory")
		}
		if out.manualIntervention, err = regexp.Compile(c.ManualInterventionRegex); err != nil {
			return nil, fmt.Errorf("invalid manual intervention regex: %w", err)
		}
	}

	if c.PrefixForIncoming != "" {
		if out.prefix, err = template.New(c.PrefixForIncoming); err != nil {
			return nil, fmt.Errorf("invalid prefix for incoming: %w", err)
		}
		for _, name := range out.prefix.PlaceholderNames() {
			if name != "timestamp" && name != "host" {
				return nil, fmt.Errorf("invalid prefix for incoming: unknown variable '%s'", name)
			}
		}
	}

	if out.host, err = os.Hostname(); err != nil {
		out.host = "localhost"
	}
	return out, nil
}

// prefixFor renders the incoming prefix at now.
func (c *compiled) prefixFor(now time.Time) (string, error) {
	if c.prefix == nil {
		return "", nil
	}
	t := c.prefix.FreshCopy()
	t.TryBind("timestamp", now.Format(TimestampLayout))
	t.TryBind("host", c.host)
	return t.Text(true)
}

func (c *Config) inProgressDir() string {
	return filepath.Join(c.Buffer.Path, CopyInProgressDir)
}

func (c *Config) completeDir() string {
	return filepath.Join(c.Buffer.Path, CopyCompleteDir)
}

func (c *Config) readyDir() string {
	return filepath.Join(c.Buffer.Path, ReadyToMoveDir)
}
