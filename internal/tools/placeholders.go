package tools

import (
	"regexp"
	"strconv"

	"agenthive/internal/artifact"
)

// Placeholder syntax inside tool argument strings:
//
//	{in}, {in1}, {in2}...   input slots, resolved against the caller's
//	                        ordered artifact references ({in} == {in1})
//	{out}, {out2}.../{out.ext}, {out2.ext}...
//	                        output slots, each distinct token reserves a
//	                        fresh store slot; the extension hint lands in
//	                        the reserved artifact's metadata
//
// Distinct output tokens are reserved in order of first occurrence in the
// argument string; repeated occurrences of the same token substitute the
// same reserved id.
var placeholderRe = regexp.MustCompile(`\{(in|out)(\d*)(?:\.([A-Za-z0-9]+))?\}`)

// Substitution is the outcome of resolving placeholders in an argument
// string.
type Substitution struct {
	// Args is the argument string with every placeholder replaced by an
	// artifact id.
	Args string

	// OutputArtifactIDs lists the reserved output slots in first-occurrence
	// order.
	OutputArtifactIDs []string
}

// SubstitutePlaceholders resolves input/output placeholders in vargs.
// Inputs resolve left-to-right against the supplied references; outputs
// reserve fresh slots in the store. Unknown input indexes and extensions on
// input placeholders are validation failures.
func SubstitutePlaceholders(vargs string, inputs []artifact.Ref, store artifact.Store) (Substitution, error) {
	var sub Substitution
	reserved := make(map[string]string) // token -> artifact id
	var firstErr error

	out := placeholderRe.ReplaceAllStringFunc(vargs, func(token string) string {
		if firstErr != nil {
			return token
		}
		parts := placeholderRe.FindStringSubmatch(token)
		kind, index, ext := parts[1], parts[2], parts[3]

		if kind == "in" {
			if ext != "" {
				firstErr = Validation("invalid_placeholder",
					"input placeholder %s cannot carry an extension hint", token)
				return token
			}
			n := 1
			if index != "" {
				n, _ = strconv.Atoi(index)
			}
			if n < 1 || n > len(inputs) {
				firstErr = Validation("invalid_placeholder",
					"input placeholder %s has no matching artifact (have %d inputs)", token, len(inputs))
				return token
			}
			return inputs[n-1].ID
		}

		// Output: one reservation per distinct token.
		if id, ok := reserved[token]; ok {
			return id
		}
		ref, err := store.Reserve(ext)
		if err != nil {
			firstErr = Runtime("reserve_failed", "reserving output slot for %s: %v", token, err)
			return token
		}
		reserved[token] = ref.ID
		sub.OutputArtifactIDs = append(sub.OutputArtifactIDs, ref.ID)
		return ref.ID
	})

	if firstErr != nil {
		return Substitution{}, firstErr
	}
	sub.Args = out
	return sub, nil
}

// ContainsPlaceholders reports whether the string holds any placeholder
// tokens.
func ContainsPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}
