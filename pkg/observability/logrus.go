package observability

import "github.com/sirupsen/logrus"

// PhoneMaskHook masks phone-number fields on logrus entries the same way
// Logger does, for the batch code that logs through logrus.
type PhoneMaskHook struct{}

func (PhoneMaskHook) Levels() []logrus.Level { return logrus.AllLevels }

func (PhoneMaskHook) Fire(e *logrus.Entry) error {
	for k, v := range e.Data {
		if s, ok := v.(string); ok && phoneKeys[k] {
			e.Data[k] = MaskPhone(s)
		}
	}
	return nil
}
