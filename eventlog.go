package dbrobj

import (
	"time"

	"github.com/gocraft/dbr/v2"
	"github.com/sirupsen/logrus"
)

// LogrusEventReceiver forwards dbr instrumentation events to a logrus
// logger.  Pass it to Connection.NewSession to get structured query logging.
type LogrusEventReceiver struct {
	Logger logrus.FieldLogger
}

var _ dbr.EventReceiver = &LogrusEventReceiver{}

func NewLogrusEventReceiver(logger logrus.FieldLogger) *LogrusEventReceiver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusEventReceiver{Logger: logger}
}

func (r *LogrusEventReceiver) Event(eventName string) {
	r.Logger.Debug(eventName)
}

func (r *LogrusEventReceiver) EventKv(eventName string, kvs map[string]string) {
	r.Logger.WithFields(kvsToFields(kvs)).Debug(eventName)
}

func (r *LogrusEventReceiver) EventErr(eventName string, err error) error {
	r.Logger.WithError(err).Error(eventName)
	return err
}

func (r *LogrusEventReceiver) EventErrKv(eventName string, err error, kvs map[string]string) error {
	r.Logger.WithError(err).WithFields(kvsToFields(kvs)).Error(eventName)
	return err
}

func (r *LogrusEventReceiver) Timing(eventName string, nanoseconds int64) {
	r.Logger.WithField("took", time.Duration(nanoseconds)).Debug(eventName)
}

func (r *LogrusEventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	r.Logger.WithField("took", time.Duration(nanoseconds)).WithFields(kvsToFields(kvs)).Debug(eventName)
}

func kvsToFields(kvs map[string]string) logrus.Fields {
	fields := make(logrus.Fields, len(kvs))
	for k, v := range kvs {
		fields[k] = v
	}
	return fields
}
