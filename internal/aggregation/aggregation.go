// Package aggregation implements C9, the Aggregation Stage: joins
// arguments, cluster assignments, labels, and comment attributes into
// the final report artifact, and optionally a flattened per-comment
// CSV. Grounded on spec §4.9.
package aggregation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// rootID is the synthetic root every level-1 cluster's Parent points
// to, shared with internal/labelling.
const rootID = "0"

// ReportArgument is one row of the final artifact's "arguments" array.
type ReportArgument struct {
	ArgID      string            `json:"arg_id"`
	Argument   string            `json:"argument"`
	X          float64           `json:"x"`
	Y          float64           `json:"y"`
	ClusterIDs []string          `json:"cluster_ids"`
	Attributes map[string]string `json:"attributes,omitempty"`
	URL        string            `json:"url,omitempty"`
}

// ReportCluster is one row of the final artifact's "clusters" array.
// Density and DensityRank are internal ranking inputs, dropped from
// the final shape per spec §4.9; only the derived percentile survives.
type ReportCluster struct {
	Level                 int     `json:"level"`
	ID                    string  `json:"id"`
	Label                 string  `json:"label"`
	Takeaway              string  `json:"takeaway"`
	Value                 int     `json:"value"`
	Parent                string  `json:"parent"`
	DensityRankPercentile float64 `json:"density_rank_percentile"`
}

// Report is the full final artifact per spec §4.9.
type Report struct {
	Arguments    []ReportArgument                 `json:"arguments"`
	Clusters     []ReportCluster                  `json:"clusters"`
	Comments     map[string]domain.Comment        `json:"comments,omitempty"`
	PropertyMap  map[string]map[string]string      `json:"propertyMap,omitempty"`
	Overview     string                           `json:"overview"`
	Config       domain.Config                    `json:"config"`
	Translations map[string]map[string]string `json:"translations,omitempty"`
}

// Build joins every stage's output into the final Report.
func Build(arguments []domain.Argument, assignments []domain.ClusterAssignment, labels []domain.ClusterLabel, comments []domain.Comment, overview string, cfg domain.Config) (Report, error) {
	assignmentByArg := make(map[string]domain.ClusterAssignment, len(assignments))
	for _, a := range assignments {
		assignmentByArg[a.ArgID] = a
	}

	reportArgs := make([]ReportArgument, 0, len(arguments))
	for _, arg := range arguments {
		assignment, ok := assignmentByArg[arg.ArgID]
		if !ok {
			return Report{}, fmt.Errorf("aggregation: argument %s has no cluster assignment", arg.ArgID)
		}
		reportArgs = append(reportArgs, ReportArgument{
			ArgID:      arg.ArgID,
			Argument:   arg.Text,
			X:          arg.X,
			Y:          arg.Y,
			ClusterIDs: []string{assignment.Level2ID, assignment.Level1ID, rootID},
			Attributes: filteredAttributes(arg.Attributes, cfg),
			URL:        sourceURL(arg.URL, cfg),
		})
	}

	reportClusters := make([]ReportCluster, 0, len(labels))
	for _, l := range labels {
		reportClusters = append(reportClusters, ReportCluster{
			Level:                 l.Level,
			ID:                    l.ID,
			Label:                 l.Label,
			Takeaway:              l.Description,
			Value:                 l.Value,
			Parent:                l.Parent,
			DensityRankPercentile: l.DensityRankPercentile,
		})
	}

	var commentsByID map[string]domain.Comment
	if cfg.IsPubcom {
		commentsByID = make(map[string]domain.Comment, len(comments))
		for _, c := range comments {
			commentsByID[c.CommentID] = c
		}
	}

	return Report{
		Arguments:    reportArgs,
		Clusters:     reportClusters,
		Comments:     commentsByID,
		PropertyMap:  buildPropertyMap(arguments, cfg),
		Overview:     overview,
		Config:       cfg,
		Translations: cfg.Translations,
	}, nil
}

func sourceURL(url string, cfg domain.Config) string {
	if !cfg.EnableSourceLink {
		return ""
	}
	return url
}

// filteredAttributes drops properties not listed in cfg.Properties and
// values listed under cfg.HiddenValues[property], per spec §3's
// "attribute→hidden-values for aggregation filtering".
func filteredAttributes(attrs map[string]string, cfg domain.Config) map[string]string {
	if len(attrs) == 0 || len(cfg.Properties) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(cfg.Properties))
	for _, p := range cfg.Properties {
		allowed[p] = true
	}
	filtered := make(map[string]string)
	for k, v := range attrs {
		if !allowed[k] {
			continue
		}
		if isHidden(cfg.HiddenValues[k], v) {
			continue
		}
		filtered[k] = v
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func isHidden(hidden []string, value string) bool {
	for _, h := range hidden {
		if h == value {
			return true
		}
	}
	return false
}

// buildPropertyMap builds spec §4.9's propertyMap: for every configured
// property, a map of arg_id to that argument's (filtered) value.
func buildPropertyMap(arguments []domain.Argument, cfg domain.Config) map[string]map[string]string {
	if len(cfg.Properties) == 0 {
		return nil
	}
	propertyMap := make(map[string]map[string]string, len(cfg.Properties))
	for _, property := range cfg.Properties {
		propertyMap[property] = map[string]string{}
	}
	for _, arg := range arguments {
		filtered := filteredAttributes(arg.Attributes, cfg)
		for property := range propertyMap {
			if value, ok := filtered[property]; ok {
				propertyMap[property][arg.ArgID] = value
			}
		}
	}
	return propertyMap
}

// Serialize writes report as UTF-8 JSON with a 2-space indent and
// non-ASCII preserved (encoding/json's default HTML-escaping is
// disabled so <, > and & inside prompts/labels are written verbatim), per
// spec §4.9.
func Serialize(report Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, fmt.Errorf("aggregation: serialize report: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
