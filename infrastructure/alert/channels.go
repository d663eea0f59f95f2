package alert

import (
	"sort"

	"go.uber.org/zap"
)

// ZapChannel 把告警写入结构化日志。
type ZapChannel struct {
	log  *zap.Logger
	name string
}

func NewZapChannel(name string, l *zap.Logger) *ZapChannel {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapChannel{log: l, name: name}
}

func (c *ZapChannel) Send(a Alert) error {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields, zap.String("alert_level", string(a.Level)), zap.Time("alert_ts", a.Timestamp))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, a.Fields[k]))
	}

	switch a.Level {
	case Critical, Error:
		c.log.Error(a.Message, fields...)
	case Warning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Info(a.Message, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return c.name }
