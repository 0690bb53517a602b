package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type ClientSettings struct {
	Timeout        *time.Duration `yaml:"timeout,omitempty"`
	TimeoutSeconds *int           `yaml:"timeout_second,omitempty"`
	Organization   *string        `yaml:"organization,omitempty"`
	UserAgent      *string        `yaml:"user_agent,omitempty"`
	HTTPClient     *http.Client   `yaml:"-" json:"-"`
}

// UnmarshalYAML overrides YAML parsing to convert time.duration from int
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	aux := struct {
		Timeout        *int    `yaml:"timeout,omitempty"`
		TimeoutSeconds *int    `yaml:"timeout_second,omitempty"`
		Organization   *string `yaml:"organization,omitempty"`
		UserAgent      *string `yaml:"user_agent,omitempty"`
	}{}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	seconds := aux.Timeout
	if seconds == nil {
		seconds = aux.TimeoutSeconds
	}
	if seconds != nil {
		t := time.Duration(*seconds) * time.Second
		cs.Timeout = &t
		cs.TimeoutSeconds = seconds
	}
	if aux.Organization != nil {
		cs.Organization = aux.Organization
	}
	if aux.UserAgent != nil {
		cs.UserAgent = aux.UserAgent
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	if cs == nil {
		return nil
	}
	httpClient := cs.HTTPClient
	cs.HTTPClient = nil
	ret := clone.Clone(cs).(*ClientSettings)
	cs.HTTPClient = httpClient
	ret.HTTPClient = httpClient
	return ret
}

// GetHTTPClient returns the injected client, or a new one with the
// configured timeout. Streaming requests are bounded by their context, so
// the timeout only applies to non-streaming calls.
func (cs *ClientSettings) GetHTTPClient(streaming bool) *http.Client {
	if cs == nil {
		return &http.Client{}
	}
	if cs.HTTPClient != nil {
		return cs.HTTPClient
	}
	c := &http.Client{}
	if !streaming && cs.Timeout != nil {
		c.Timeout = *cs.Timeout
	}
	return c
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := 60 * time.Second
	return &ClientSettings{
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
	}
}
