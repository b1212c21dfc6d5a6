package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	c, err := New("en")
	require.NoError(t, err)

	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"plain code", []string{"ta"}, "ta"},
		{"regional tag", []string{"hi-IN"}, "hi"},
		{"accept-language", []string{"", "", "ta-IN,ta;q=0.9,en;q=0.8"}, "ta"},
		{"first match wins", []string{"hi", "ta"}, "hi"},
		{"unsupported skipped", []string{"fr", "ta"}, "ta"},
		{"garbage skipped", []string{"not a tag!!", "hi"}, "hi"},
		{"nothing", nil, "en"},
		{"only unsupported", []string{"de-DE"}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Select(tt.candidates...))
		})
	}
}

func TestSelectUsesConfiguredDefault(t *testing.T) {
	c, err := New("ta")
	require.NoError(t, err)
	assert.Equal(t, "ta", c.Select("fr"))
	assert.Equal(t, "ta", c.Default())
}

func TestNewRejectsUnsupportedDefault(t *testing.T) {
	_, err := New("fr")
	assert.Error(t, err)
}

func TestLocalizer(t *testing.T) {
	c, err := New("en")
	require.NoError(t, err)

	assert.Equal(t, "Evidence Analysis Report", c.Localizer("en").T("ReportTitle"))
	assert.Equal(t, "சான்று பகுப்பாய்வு அறிக்கை", c.Localizer("ta").T("ReportTitle"))
	assert.Equal(t, "साक्ष्य विश्लेषण रिपोर्ट", c.Localizer("hi").T("ReportTitle"))
	assert.Equal(t, "NoSuchMessage", c.Localizer("hi").T("NoSuchMessage"))
}

func TestEveryLanguageDefinesEveryMessage(t *testing.T) {
	c, err := New("en")
	require.NoError(t, err)
	en := c.Localizer("en")
	for _, lang := range Supported[1:] {
		l := c.Localizer(lang)
		for _, id := range []string{"ReportTitle", "Narrative", "Summary", "Timeline", "EventColumn", "Footer"} {
			assert.NotEqual(t, en.T(id), l.T(id), "%s/%s falls back to English", lang, id)
		}
	}
}
