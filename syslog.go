package ruleimport

import (
	syslog "github.com/RackSec/srslog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SyslogHook forwards log entries of the package logger to syslog.
type SyslogHook struct {
	writer *syslog.Writer
	levels []logrus.Level
}

var _ logrus.Hook = &SyslogHook{}

type SyslogOptions struct {
	// "udp", "tcp", "unix". Defaults to "udp"
	Network string

	// Remote address, defaults to local syslog server
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority
	Priority int

	// Syslog tag
	Tag string

	// Least severe level that is forwarded, e.g. "warning". Defaults to
	// "info".
	Level string
}

// NewSyslogHook dials the syslog server and returns a hook that can be added
// to a logger.
func NewSyslogHook(opt SyslogOptions) (*SyslogHook, error) {
	if opt.Network == "" && opt.Address != "" {
		opt.Network = "udp"
	}
	level := logrus.InfoLevel
	if opt.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opt.Level); err != nil {
			return nil, errors.Wrap(err, "invalid syslog level")
		}
	}
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize syslog")
	}
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return &SyslogHook{writer: writer, levels: levels}, nil
}

func (h *SyslogHook) Levels() []logrus.Level {
	return h.levels
}

// Fire sends one entry with the matching syslog severity.
func (h *SyslogHook) Fire(entry *logrus.Entry) error {
	msg, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.writer.Crit(msg)
	case logrus.ErrorLevel:
		return h.writer.Err(msg)
	case logrus.WarnLevel:
		return h.writer.Warning(msg)
	case logrus.InfoLevel:
		return h.writer.Info(msg)
	default:
		return h.writer.Debug(msg)
	}
}

// Close the connection to the syslog server.
func (h *SyslogHook) Close() error {
	return h.writer.Close()
}
