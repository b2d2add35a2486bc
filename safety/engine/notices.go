package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
)

var userNoticeTemplate = pongo2.Must(pongo2.FromString(`{% if kind == "warn" %}You have received a warning in {{ community }}.{% elif kind == "mute" %}You have been muted in {{ community }} for {{ duration }}.{% elif kind == "kick" %}You have been removed from {{ community }}.{% elif kind == "ban" %}You have been banned from {{ community }}.{% elif kind == "unban" %}Your appeal was approved and your ban in {{ community }} has been lifted.{% elif kind == "unmute" %}Your appeal was approved and your mute in {{ community }} has been lifted.{% endif %}
{% if reason %}Reason: {{ reason }}
{% endif %}{% if appealable %}If you believe this was a mistake, reply to this message explaining what happened. Your appeal will be reviewed automatically.
{% endif %}`))

var operatorSummaryTemplate = pongo2.Must(pongo2.FromString(`user {{ user }}: {{ kind }}{% if duration %} ({{ duration }}){% endif %}, confidence {{ confidence|floatformat:2 }}
reason: {{ reason }}
source: {{ source }}{% if not notified %}
(user notification failed){% endif %}{% if downgraded %}
(downgraded from {{ downgraded }}: daily quota reached){% endif %}`))

// Human-readable duration, eg "15 minutes" or "6 hours".
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func renderUserNotice(kind, communityID, reason string, d time.Duration) string {
	appealable := kind == ActionMute || kind == ActionKick || kind == ActionBan
	out, err := userNoticeTemplate.Execute(pongo2.Context{
		"kind":       kind,
		"community":  communityID,
		"reason":     reason,
		"duration":   humanDuration(d),
		"appealable": appealable,
	})
	if err != nil {
		// templates are static; fall back to a bare notice rather than skip notifying
		return fmt.Sprintf("Moderation action in %s: %s (%s)", communityID, kind, reason)
	}
	return strings.TrimSpace(out)
}

func renderOperatorSummary(sn *sanction, notified bool) string {
	out, err := operatorSummaryTemplate.Execute(pongo2.Context{
		"user":       sn.UserID,
		"kind":       sn.Kind,
		"duration":   humanDuration(sn.Duration),
		"confidence": sn.Confidence,
		"reason":     sn.Reason,
		"source":     sn.Source,
		"notified":   notified,
		"downgraded": sn.DowngradedFrom,
	})
	if err != nil {
		return fmt.Sprintf("user %s: %s (%s)", sn.UserID, sn.Kind, sn.Reason)
	}
	return out
}
