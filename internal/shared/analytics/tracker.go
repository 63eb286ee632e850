package analytics

import (
	"context"

	"github.com/dukex/mixpanel"
	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/savaki/amplitude-go"
)

type EventName string

const EventRepoHealthAnalyzed EventName = "Repo health analyzed"

// systemUserID is the distinct id of events not caused by a particular user.
const systemUserID = "repohealth"

type Tracker interface {
	Track(ctx context.Context, event EventName, props map[string]interface{})
}

type NopTracker struct{}

func (NopTracker) Track(ctx context.Context, event EventName, props map[string]interface{}) {}

type amplitudeMixpanelTracker struct {
	amplitudeClient *amplitude.Client
	mixpanelClient  mixpanel.Mixpanel
	log             logutil.Log
}

// NewTracker returns a tracker publishing to every service with a configured api key.
func NewTracker(cfg config.Config, log logutil.Log) Tracker {
	t := &amplitudeMixpanelTracker{
		log: log,
	}

	if apiKey := cfg.GetString("AMPLITUDE_API_KEY"); apiKey != "" {
		t.amplitudeClient = amplitude.New(apiKey)
	}
	if token := cfg.GetString("MIXPANEL_API_KEY"); token != "" {
		t.mixpanelClient = mixpanel.New(token, cfg.GetString("MIXPANEL_API_URL"))
	}

	if t.amplitudeClient == nil && t.mixpanelClient == nil {
		return NopTracker{}
	}

	return t
}

func (t amplitudeMixpanelTracker) Track(ctx context.Context, eventName EventName, props map[string]interface{}) {
	eventProps := map[string]interface{}{}
	for k, v := range props {
		eventProps[k] = v
	}
	t.log.Infof("Track event %s with props %+v", eventName, eventProps)

	if t.amplitudeClient != nil {
		ev := amplitude.Event{
			UserId:          systemUserID,
			EventType:       string(eventName),
			EventProperties: eventProps,
		}
		if err := t.amplitudeClient.Publish(ev); err != nil {
			t.log.Warnf("Can't publish %+v to amplitude: %s", ev, err)
		}
	}

	if t.mixpanelClient != nil {
		const ip = "0" // don't auto-detect
		ev := &mixpanel.Event{
			IP:         ip,
			Properties: eventProps,
		}
		if err := t.mixpanelClient.Track(systemUserID, string(eventName), ev); err != nil {
			t.log.Warnf("Can't publish event %s (%+v) to mixpanel: %s", string(eventName), ev, err)
		}
	}
}
