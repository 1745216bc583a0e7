package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/wire"
)

// defaultTranscribeLanguage is assumed for bare "transcription" subscriptions
// when computing the language set the speech pipeline must cover.
const defaultTranscribeLanguage = "en-US"

// Subscriber is one fan-out recipient together with the subscription key that
// matched, which is what gets stamped into the DATA_STREAM frame.
type Subscriber struct {
	PackageName string
	MatchedKey  streams.Key
}

// SubscriptionManager maintains the stream-key → subscribers index for one
// user session and the derived audio booleans the microphone policy consumes.
//
// Mutations funnel through the owning AppSession's operation queue so a
// subscription update and a lifecycle transition cannot interleave.
type SubscriptionManager struct {
	session *UserSession
	log     *logger.Logger

	mu    sync.RWMutex
	index map[streams.Key]map[string]struct{}

	hasPCM           bool
	hasTranscription bool
}

func newSubscriptionManager(s *UserSession, log *logger.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		session: s,
		log:     log.WithComponent("subscriptions"),
		index:   make(map[streams.Key]map[string]struct{}),
	}
}

// UpdateSubscriptions validates and applies a full-replacement subscription
// update for one app. Validation failures reject the whole update; nothing is
// partially applied. The apply itself runs on the app's operation queue.
func (m *SubscriptionManager) UpdateSubscriptions(packageName string, rawKeys []string, locationRate string) (SubscriptionResult, error) {
	if locationRate != "" && !wire.ValidLocationRate(locationRate) {
		return SubscriptionResult{}, fmt.Errorf("invalid location rate %q", locationRate)
	}
	keys, err := streams.ParseList(rawKeys)
	if err != nil {
		return SubscriptionResult{}, err
	}

	app := m.session.app(packageName)
	if app == nil {
		return SubscriptionResult{}, fmt.Errorf("no app session for %s", packageName)
	}

	var result SubscriptionResult
	err = app.Enqueue(func() error {
		result = app.applySubscriptions(keys, wire.LocationRate(locationRate))
		if result.Applied {
			m.reindex(packageName, result.New)
		}
		return nil
	})
	if err != nil {
		return SubscriptionResult{}, err
	}

	if result.Applied {
		m.log.Info("subscriptions updated",
			"package", packageName,
			"count", len(result.New),
		)
	}
	return result, nil
}

// Remove drops all index entries for a package (app stopped or session
// disposed). The AppSession keeps its own copy for a possible resurrection.
func (m *SubscriptionManager) Remove(packageName string) {
	m.reindex(packageName, nil)
}

func (m *SubscriptionManager) reindex(packageName string, keys []streams.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, pkgs := range m.index {
		delete(pkgs, packageName)
		if len(pkgs) == 0 {
			delete(m.index, key)
		}
	}
	for _, key := range keys {
		pkgs, ok := m.index[key]
		if !ok {
			pkgs = make(map[string]struct{})
			m.index[key] = pkgs
		}
		pkgs[packageName] = struct{}{}
	}

	m.hasPCM = false
	m.hasTranscription = false
	for key := range m.index {
		switch key.Type {
		case streams.TypePCM:
			m.hasPCM = true
		case streams.TypeTranscription, streams.TypeTranslation:
			m.hasTranscription = true
		}
	}
}

// SubscribersFor resolves an event key to its recipients: exact-key
// subscribers, base-type subscribers for qualified events, and both
// wildcards. Each package appears once, matched under the most specific of
// its keys, in deterministic package order.
func (m *SubscriptionManager) SubscribersFor(event streams.Key) []Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make(map[string]streams.Key)
	add := func(idx streams.Key) {
		for pkg := range m.index[idx] {
			if _, ok := matched[pkg]; !ok {
				matched[pkg] = idx
			}
		}
	}

	add(event)
	if event.IsQualified() {
		add(event.Base())
	}
	add(streams.Key{Type: streams.TypeAll})
	add(streams.Key{Type: streams.TypeWildcard})

	out := make([]Subscriber, 0, len(matched))
	for pkg, key := range matched {
		out = append(out, Subscriber{PackageName: pkg, MatchedKey: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
	return out
}

// HasMediaSubscriptions reports the derived audio booleans: whether any app
// wants raw PCM, and whether any app wants transcription or translation.
func (m *SubscriptionManager) HasMediaSubscriptions() (hasPCM, hasTranscription bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPCM, m.hasTranscription
}

// MinimalLanguageSubscriptions returns the distinct language tuples the
// speech pipeline must cover, in deterministic order. A bare transcription
// subscription counts as the default language.
func (m *SubscriptionManager) MinimalLanguageSubscriptions() []streams.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[streams.Key]struct{})
	for key := range m.index {
		switch key.Type {
		case streams.TypeTranscription:
			if key.TranscribeLanguage == "" {
				key.TranscribeLanguage = defaultTranscribeLanguage
			}
			seen[key] = struct{}{}
		case streams.TypeTranslation:
			if key.IsQualified() {
				seen[key] = struct{}{}
			}
		}
	}

	out := make([]streams.Key, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	streams.SortKeys(out)
	return out
}
