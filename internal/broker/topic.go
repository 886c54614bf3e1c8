package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rzbill/eventpipe/internal/eventlog"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

var (
	// ErrUnknownTopic is returned for topics that were never provisioned.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrIncompatibleTopic is returned when a topic exists with different
	// settings than requested.
	ErrIncompatibleTopic = errors.New("topic exists with incompatible settings")
)

const maxTopicNameLen = 249

// TopicSpec is a provisioning request.
type TopicSpec struct {
	Name              string `json:"name"`
	Partitions        int    `json:"partitions"`
	ReplicationFactor int    `json:"replicationFactor"`
}

// TopicMeta is the stored topic record.
type TopicMeta struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	// ReplicationFactor is recorded only; the embedded broker is single-node.
	ReplicationFactor int   `json:"replicationFactor"`
	CreatedAtMs       int64 `json:"createdAtMs"`
}

func validateTopicName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("topic name is required")
	case len(name) > maxTopicNameLen:
		return fmt.Errorf("topic name longer than %d bytes", maxTopicNameLen)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("topic name %q must not contain '/'", name)
	}
	return nil
}

// EnsureTopic creates the topic if absent. An existing topic with the same
// partition count is returned unchanged; a different count is
// ErrIncompatibleTopic.
func (b *Broker) EnsureTopic(ctx context.Context, spec TopicSpec) (TopicMeta, error) {
	if err := validateTopicName(spec.Name); err != nil {
		return TopicMeta{}, err
	}
	if spec.Partitions < 1 {
		return TopicMeta{}, fmt.Errorf("topic %s: partitions must be >= 1", spec.Name)
	}
	if spec.ReplicationFactor < 1 {
		spec.ReplicationFactor = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.loadTopicLocked(spec.Name)
	switch {
	case err == nil:
		if existing.Partitions != spec.Partitions {
			return existing, fmt.Errorf("%w: %s has %d partitions, requested %d",
				ErrIncompatibleTopic, spec.Name, existing.Partitions, spec.Partitions)
		}
		return existing, nil
	case !errors.Is(err, ErrUnknownTopic):
		return TopicMeta{}, err
	}

	m := TopicMeta{
		Name:              spec.Name,
		Partitions:        spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
		CreatedAtMs:       b.now().UnixMilli(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return TopicMeta{}, err
	}
	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(eventlog.KeyTopicMeta(spec.Name), raw, nil); err != nil {
		return TopicMeta{}, err
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return TopicMeta{}, fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	b.topics[spec.Name] = m
	b.logger.Info("Topic created",
		logpkg.Str("topic", m.Name), logpkg.Int("partitions", m.Partitions), logpkg.Int("replicationFactor", m.ReplicationFactor))
	return m, nil
}

// Topic returns the metadata of a provisioned topic.
func (b *Broker) Topic(name string) (TopicMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadTopicLocked(name)
}

func (b *Broker) loadTopicLocked(name string) (TopicMeta, error) {
	if m, ok := b.topics[name]; ok {
		return m, nil
	}
	raw, err := b.db.Get(eventlog.KeyTopicMeta(name))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return TopicMeta{}, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	if err != nil {
		return TopicMeta{}, err
	}
	var m TopicMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return TopicMeta{}, fmt.Errorf("decode topic %s: %w", name, err)
	}
	b.topics[name] = m
	return m, nil
}
