package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	logx "github.com/olist-insight/server/pkg/logger"
)

const insightCount = 5

const insightSystemPrompt = "You are a senior data analyst.\n" +
	"Create exactly 5 insights from the provided EDA summary.\n" +
	"Each insight MUST include: title, finding (quantified if possible), evidence (what metric/table supports it), and impact (why it matters).\n" +
	"Do not hallucinate numbers not present in the EDA.\n" +
	"If the EDA lacks a metric, phrase it qualitatively and suggest next query.\n" +
	"Return ONLY valid JSON."

// placeholderInsight fills the artifact up to five entries when the model
// returns fewer. The wording is fixed so the UI renders it consistently.
var placeholderInsight = model.Insight{
	Title:    "Insight tambahan (butuh data)",
	Finding:  "EDA saat ini belum cukup untuk menyimpulkan poin ini secara kuantitatif.",
	Evidence: "Perlu query/EDA tambahan.",
	Impact:   "Menentukan prioritas analisis lanjutan.",
}

// BuildArtifact asks the oracle for executive insights over the profile and
// normalizes the reply into exactly five entries. A completely unparseable
// reply degrades to an empty skeleton rather than an error; padding then
// fills it.
func BuildArtifact(ctx context.Context, orc oracle.Oracle, task string, eda *Summary) (model.AnalyticsArtifact, error) {
	edaJSON, err := json.Marshal(eda)
	if err != nil {
		return model.AnalyticsArtifact{}, err
	}

	user := fmt.Sprintf(
		"User request:\n%s\n\nEDA summary (JSON):\n%s\n\n"+
			"Return JSON with keys:\n{\n"+
			"  \"headline\": str,\n"+
			"  \"insights\": [\n"+
			"    {\"title\": str, \"finding\": str, \"evidence\": str, \"impact\": str}\n"+
			"  ],\n"+
			"  \"next_questions\": [str, ...]\n}\n",
		task, edaJSON)

	raw, err := orc.Complete(ctx, insightSystemPrompt, []model.Turn{{Role: model.RoleUser, Content: user}}, 900)
	if err != nil {
		return model.AnalyticsArtifact{}, err
	}

	artifact := model.AnalyticsArtifact{Headline: "Analytics summary"}
	if obj, ok := oracle.ExtractJSON(raw); ok {
		if buf, err := json.Marshal(obj); err == nil {
			_ = json.Unmarshal(buf, &artifact)
		}
	} else {
		logx.Warn().Str("reply", raw).Msg("insight reply not parseable as JSON, using empty skeleton")
	}

	artifact.Insights = padInsights(artifact.Insights)
	if artifact.NextQuestions == nil {
		artifact.NextQuestions = []string{}
	}
	return artifact, nil
}

// padInsights enforces the exactly-five contract on every path.
func padInsights(insights []model.Insight) []model.Insight {
	if len(insights) > insightCount {
		return insights[:insightCount]
	}
	for len(insights) < insightCount {
		insights = append(insights, placeholderInsight)
	}
	return insights
}
