package oracle

import (
	"github.com/flosch/pongo2/v6"
)

const systemPrompt = `You are the trust-and-safety reviewer for an online chat community. You are given structured evidence about one member and must answer ONLY with the labeled fields requested, one per line. Be conservative: automated action will be taken on confident answers.`

var investigationTemplate = pongo2.Must(pongo2.FromString(`Investigate the following community member.

Trigger: {{ ev.Trigger }}

Profile:
- user: {{ ev.Subject.UserID }} (community {{ ev.Subject.CommunityID }}, status {{ ev.Subject.Status }})
- scores: trust={{ ev.Subject.Trust|floatformat:1 }} risk={{ ev.Subject.Risk|floatformat:1 }} toxicity={{ ev.Subject.Toxicity|floatformat:1 }}
- sanctions so far: warnings={{ ev.Subject.Warnings }} mutes={{ ev.Subject.Mutes }} kicks={{ ev.Subject.Kicks }} bans={{ ev.Subject.Bans }} threat_flag={{ ev.Subject.IsThreat }}
- activity: messages={{ ev.Subject.Messages }} deletions={{ ev.Subject.Deletions }}

Recent messages (newest first):
{% for s in ev.Samples %}- [{{ s.Flags|default:"no flags" }}]{% if s.Deleted %} (deleted){% endif %} {{ s.Text }}
{% empty %}- (none)
{% endfor %}
Recent enforcement actions (newest first):
{% for a in ev.Actions %}- {{ a.Kind }} (confidence {{ a.Confidence|floatformat:2 }}): {{ a.Reason }}
{% empty %}- (none)
{% endfor %}
Respond with exactly these fields:
THREAT_LEVEL: one of low, medium, high, critical
RATIONALE: one or two sentences
RECOMMENDED_ACTION: one of none, watch, warn, mute, kick, ban
CONFIDENCE: a number between 0 and 1
`))

var appealTemplate = pongo2.Must(pongo2.FromString(`A sanctioned member is appealing a {{ ev.SanctionKind }}.

Their appeal message:
"""
{{ ev.Rebuttal }}
"""

Profile:
- user: {{ ev.Subject.UserID }} (community {{ ev.Subject.CommunityID }})
- sanctions so far: warnings={{ ev.Subject.Warnings }} mutes={{ ev.Subject.Mutes }} kicks={{ ev.Subject.Kicks }} bans={{ ev.Subject.Bans }} threat_flag={{ ev.Subject.IsThreat }}
- risk={{ ev.Subject.Risk|floatformat:1 }} toxicity={{ ev.Subject.Toxicity|floatformat:1 }}

Recent messages (newest first):
{% for s in ev.Samples %}- [{{ s.Flags|default:"no flags" }}] {{ s.Text }}
{% empty %}- (none)
{% endfor %}
Enforcement history (newest first):
{% for a in ev.Actions %}- {{ a.Kind }}: {{ a.Reason }}
{% empty %}- (none)
{% endfor %}
Decision criteria:
- APPROVE only if ALL hold: this is the member's first major offense, the appeal shows genuine remorse, and a misunderstanding is plausible.
- DENY if there is a pattern of violations, the offense is in a severe class (threats, self-harm incitement, scams, doxxing), or the appeal takes no accountability.

Respond with exactly these fields:
DECISION: approve or deny
REASONING: one or two sentences
CONFIDENCE: a number between 0 and 1
`))

var summaryTemplate = pongo2.Must(pongo2.FromString(`Write a short (3 sentence) plain-text summary for the moderators of community {{ st.CommunityID }} covering {{ st.Day }}.

Messages: {{ st.Messages }}, deletions: {{ st.Deletions }}, active members: {{ st.ActiveUsers }}
Actions: {% for kind, n in st.ActionsByKind %}{{ kind }}={{ n }} {% empty %}none{% endfor %}
Investigations: {{ st.Investigations }}
Appeals: approved={{ st.AppealsApproved }} denied={{ st.AppealsDenied }}
Highest-risk members:
{% for s in st.TopRisk %}- {{ s.UserID }} risk={{ s.Risk|floatformat:1 }} status={{ s.Status }}
{% empty %}- (none)
{% endfor %}`))

func renderInvestigation(ev Evidence) (string, error) {
	return investigationTemplate.Execute(pongo2.Context{"ev": ev})
}

func renderAppeal(ev Evidence) (string, error) {
	return appealTemplate.Execute(pongo2.Context{"ev": ev})
}

func renderSummary(st ReportStats) (string, error) {
	return summaryTemplate.Execute(pongo2.Context{"st": st})
}
