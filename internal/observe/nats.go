package observe

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each record as JSON to "<prefix>.<kind>". Publish
// errors are logged and the record is dropped; the log sink remains the
// record of truth.
type NATSSink struct {
	pub    Publisher
	prefix string
	logger logpkg.Logger
}

// NewNATSSink wraps a publisher. An empty prefix defaults to "eventpipe".
func NewNATSSink(pub Publisher, prefix string, logger logpkg.Logger) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "eventpipe"
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger.WithComponent("observe.nats")}
}

// Subject returns the subject records of kind are published on.
func (s *NATSSink) Subject(kind Kind) string { return s.prefix + "." + string(kind) }

func (s *NATSSink) Emit(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn("Encode record failed", logpkg.Str("kind", string(r.Kind)), logpkg.Err(err))
		return
	}
	if err := s.pub.Publish(s.Subject(r.Kind), data); err != nil {
		s.logger.Warn("Publish record failed", logpkg.Str("subject", s.Subject(r.Kind)), logpkg.Err(err))
	}
}

// DialNATS connects to url with reconnects enabled and returns the
// connection for use as a Publisher. The caller drains it on shutdown.
func DialNATS(url string, logger logpkg.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("eventpipe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logpkg.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", logpkg.Str("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
