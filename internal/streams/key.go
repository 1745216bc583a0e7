// Package streams defines the subscription stream-key vocabulary: base
// stream types, language-qualified transcription/translation keys and
// gesture-qualified touch keys, with a canonical string form so two
// spellings of the same subscription compare equal.
package streams

import (
	"fmt"
	"sort"
	"strings"
)

// Type is a base stream type an app can subscribe to.
type Type string

const (
	TypeTranscription          Type = "transcription"
	TypeTranslation            Type = "translation"
	TypeLocationStream         Type = "location_stream"
	TypeVad                    Type = "vad"
	TypeTouchEvent             Type = "touch_event"
	TypePCM                    Type = "pcm"
	TypePhotoResponse          Type = "photo_response"
	TypeCustomMessage          Type = "custom_message"
	TypeRtmpStatus             Type = "rtmp_status"
	TypeHeadPosition           Type = "head_position"
	TypeGlassesConnectionState Type = "glasses_connection_state"
	TypeCalendarEvent          Type = "calendar_event"
	TypeRgbLedResponse         Type = "rgb_led_control_response"
	TypeAudioPlayResponse      Type = "audio_play_response"

	// TypeAll and TypeWildcard are distinct wildcards but both cause every
	// relayed event to reach the subscriber.
	TypeAll      Type = "all"
	TypeWildcard Type = "*"
)

var validTypes = map[Type]bool{
	TypeTranscription:          true,
	TypeTranslation:            true,
	TypeLocationStream:         true,
	TypeVad:                    true,
	TypeTouchEvent:             true,
	TypePCM:                    true,
	TypePhotoResponse:          true,
	TypeCustomMessage:          true,
	TypeRtmpStatus:             true,
	TypeHeadPosition:           true,
	TypeGlassesConnectionState: true,
	TypeCalendarEvent:          true,
	TypeRgbLedResponse:         true,
	TypeAudioPlayResponse:      true,
	TypeAll:                    true,
	TypeWildcard:               true,
}

// Key identifies one subscription. The zero qualifiers mean a bare base-type
// subscription. Keys are comparable; a parsed key is always canonical.
type Key struct {
	Type Type

	// TranscribeLanguage qualifies transcription and translation keys
	// (the source language).
	TranscribeLanguage string

	// TranslateLanguage is the target language of a translation key.
	TranslateLanguage string

	// Gesture qualifies touch_event keys.
	Gesture string
}

// translationSep separates source and target languages in a translation key,
// e.g. "translation:es-ES-to-en-US".
const translationSep = "-to-"

// Parse parses and canonicalizes a stream key string. Unknown base types are
// an error (the dispatcher surfaces them as MALFORMED_MESSAGE).
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("empty stream key")
	}

	base, qualifier, hasQualifier := strings.Cut(s, ":")
	typ := Type(strings.ToLower(base))
	if base == "*" {
		typ = TypeWildcard
	}
	if !validTypes[typ] {
		return Key{}, fmt.Errorf("unknown stream type %q", base)
	}

	if !hasQualifier {
		return Key{Type: typ}, nil
	}

	switch typ {
	case TypeTranscription:
		lang, err := canonicalLanguage(qualifier)
		if err != nil {
			return Key{}, fmt.Errorf("stream key %q: %w", s, err)
		}
		return Key{Type: typ, TranscribeLanguage: lang}, nil

	case TypeTranslation:
		src, tgt, ok := strings.Cut(qualifier, translationSep)
		if !ok {
			return Key{}, fmt.Errorf("stream key %q: translation requires %q separator", s, translationSep)
		}
		srcLang, err := canonicalLanguage(src)
		if err != nil {
			return Key{}, fmt.Errorf("stream key %q: %w", s, err)
		}
		tgtLang, err := canonicalLanguage(tgt)
		if err != nil {
			return Key{}, fmt.Errorf("stream key %q: %w", s, err)
		}
		return Key{Type: typ, TranscribeLanguage: srcLang, TranslateLanguage: tgtLang}, nil

	case TypeTouchEvent:
		gesture := strings.ToLower(strings.TrimSpace(qualifier))
		if gesture == "" {
			return Key{}, fmt.Errorf("stream key %q: empty gesture", s)
		}
		return Key{Type: typ, Gesture: gesture}, nil

	default:
		return Key{}, fmt.Errorf("stream type %q does not take a qualifier", base)
	}
}

// ParseList parses a subscription list, deduplicating canonical keys and
// preserving first-seen order.
func ParseList(list []string) ([]Key, error) {
	seen := make(map[Key]bool, len(list))
	keys := make([]Key, 0, len(list))
	for _, s := range list {
		key, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

// String returns the canonical string form.
func (k Key) String() string {
	switch {
	case k.Type == TypeTranslation && k.TranscribeLanguage != "":
		return string(k.Type) + ":" + k.TranscribeLanguage + translationSep + k.TranslateLanguage
	case k.TranscribeLanguage != "":
		return string(k.Type) + ":" + k.TranscribeLanguage
	case k.Gesture != "":
		return string(k.Type) + ":" + k.Gesture
	default:
		return string(k.Type)
	}
}

// Base returns the bare base-type key.
func (k Key) Base() Key {
	return Key{Type: k.Type}
}

// IsWildcard reports whether the key matches every stream.
func (k Key) IsWildcard() bool {
	return k.Type == TypeAll || k.Type == TypeWildcard
}

// IsQualified reports whether the key carries a language or gesture
// qualifier.
func (k Key) IsQualified() bool {
	return k.TranscribeLanguage != "" || k.Gesture != ""
}

// Matches reports whether a subscription with this key should receive an
// event published under the event key. A qualified subscription matches only
// the identical qualifier tuple; an unqualified subscription matches any
// event of its base type. Wildcards are resolved by the subscription index,
// not here.
func (k Key) Matches(event Key) bool {
	if k.Type != event.Type {
		return false
	}
	if !k.IsQualified() {
		return true
	}
	return k.TranscribeLanguage == event.TranscribeLanguage &&
		k.TranslateLanguage == event.TranslateLanguage &&
		k.Gesture == event.Gesture
}

// SortKeys orders keys by canonical string; used wherever a deterministic
// ordering is required.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

// canonicalLanguage normalizes a BCP 47-ish language tag: the language
// subtag lowercase, two-letter region subtags uppercase, four-letter script
// subtags title case. "en-us" and "EN-US" both canonicalize to "en-US".
func canonicalLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", fmt.Errorf("empty language tag")
	}

	parts := strings.Split(tag, "-")
	for i, part := range parts {
		if part == "" {
			return "", fmt.Errorf("invalid language tag %q", tag)
		}
		switch {
		case i == 0:
			parts[i] = strings.ToLower(part)
		case len(part) == 2:
			parts[i] = strings.ToUpper(part)
		case len(part) == 4:
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		default:
			parts[i] = strings.ToLower(part)
		}
	}
	return strings.Join(parts, "-"), nil
}
