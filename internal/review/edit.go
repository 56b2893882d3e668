package review

import (
	"fmt"
	"strings"

	"github.com/caseforge/caseforge/internal/model"
)

// applyEdit applies one keep/drop/rename command to a list artifact and
// returns the edited copy. The input artifact is never mutated, so a
// rejected edit leaves the session's draft intact.
func applyEdit(a model.Artifact, cmd, args string) (model.Artifact, error) {
	if args == "" {
		return nil, fmt.Errorf("review: %s needs arguments, try help", cmd)
	}
	switch cmd {
	case "keep":
		return filterItems(a, keepSet(strings.Fields(args)), true)
	case "drop":
		return filterItems(a, keepSet(strings.Fields(args)), false)
	case "rename":
		id, title, ok := strings.Cut(args, " ")
		title = strings.TrimSpace(title)
		if !ok || title == "" {
			return nil, fmt.Errorf("review: rename needs an id and a new title")
		}
		return renameItem(a, id, title)
	case "add":
		return addItem(a, args)
	default:
		return nil, fmt.Errorf("review: unsupported edit %q", cmd)
	}
}

func keepSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// filterItems retains (keep=true) or removes (keep=false) the items whose
// ids are in set. Ids that match nothing are an error so typos do not
// silently pass.
func filterItems(a model.Artifact, set map[string]bool, keep bool) (model.Artifact, error) {
	matched := make(map[string]bool, len(set))

	switch l := a.(type) {
	case *model.FeatureList:
		out := &model.FeatureList{}
		for _, f := range l.Features {
			if set[f.ID] {
				matched[f.ID] = true
			}
			if set[f.ID] == keep {
				out.Features = append(out.Features, f)
			}
		}
		return out, unmatchedErr(set, matched)
	case *model.StoryList:
		out := &model.StoryList{}
		for _, s := range l.Stories {
			if set[s.ID] {
				matched[s.ID] = true
			}
			if set[s.ID] == keep {
				out.Stories = append(out.Stories, s)
			}
		}
		return out, unmatchedErr(set, matched)
	case *model.TestCaseList:
		out := &model.TestCaseList{}
		for _, c := range l.TestCases {
			if set[c.ID] {
				matched[c.ID] = true
			}
			if set[c.ID] == keep {
				out.TestCases = append(out.TestCases, c)
			}
		}
		return out, unmatchedErr(set, matched)
	default:
		return nil, fmt.Errorf("review: this step's draft has no editable items")
	}
}

func renameItem(a model.Artifact, id, title string) (model.Artifact, error) {
	switch l := a.(type) {
	case *model.FeatureList:
		out := &model.FeatureList{Features: append([]model.Feature(nil), l.Features...)}
		for i := range out.Features {
			if out.Features[i].ID == id {
				out.Features[i].Name = title
				return out, nil
			}
		}
	case *model.StoryList:
		out := &model.StoryList{Stories: append([]model.Story(nil), l.Stories...)}
		for i := range out.Stories {
			if out.Stories[i].ID == id {
				out.Stories[i].Title = title
				return out, nil
			}
		}
	case *model.TestCaseList:
		out := &model.TestCaseList{TestCases: append([]model.TestCase(nil), l.TestCases...)}
		for i := range out.TestCases {
			if out.TestCases[i].ID == id {
				out.TestCases[i].Title = title
				return out, nil
			}
		}
	default:
		return nil, fmt.Errorf("review: this step's draft has no editable items")
	}
	return nil, fmt.Errorf("review: no item with id %q", id)
}

// addItem appends a reviewer-written item. Features take "id name",
// stories take "id feature_id title". Test cases need steps and expected
// results, which do not fit a one-line command; they are added via redo
// feedback instead.
func addItem(a model.Artifact, args string) (model.Artifact, error) {
	switch l := a.(type) {
	case *model.FeatureList:
		id, name, ok := strings.Cut(args, " ")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("review: add needs an id and a name, e.g.: add F-9 Refunds")
		}
		out := &model.FeatureList{Features: append([]model.Feature(nil), l.Features...)}
		out.Features = append(out.Features, model.Feature{ID: id, Name: name})
		return out, out.Validate()
	case *model.StoryList:
		fields := strings.Fields(args)
		if len(fields) < 3 {
			return nil, fmt.Errorf("review: add needs an id, a feature id and a title, e.g.: add S-9 F-1 Refund an order")
		}
		out := &model.StoryList{Stories: append([]model.Story(nil), l.Stories...)}
		out.Stories = append(out.Stories, model.Story{
			ID:        fields[0],
			FeatureID: fields[1],
			Title:     strings.Join(fields[2:], " "),
		})
		return out, out.Validate()
	case *model.TestCaseList:
		return nil, fmt.Errorf("review: test cases need steps and expected results, request them via redo instead")
	default:
		return nil, fmt.Errorf("review: this step's draft has no editable items")
	}
}

func unmatchedErr(set, matched map[string]bool) error {
	var missing []string
	for id := range set {
		if !matched[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("review: no item with id %q", strings.Join(missing, ", "))
	}
	return nil
}
