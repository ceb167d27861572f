package signature

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Config configures a Generator. Pattern lists are OR-joined into single
// regexes at construction, so matching every frame is O(1) regex
// evaluations instead of O(len(patterns)).
type Config struct {
	SkipPatterns      []string
	EndPatterns       []string
	Delimiter         string // default "|"
	MaximumFrameCount int    // default 10
}

// Generator produces signatures from a crashing thread's frames. It is
// immutable after construction and safe to share across worker goroutines.
type Generator struct {
	skip      *regexp2.Regexp // nil if no skip patterns configured
	end       *regexp2.Regexp // nil if no end patterns configured
	delimiter string
	maxFrames int
}

// NewGenerator compiles cfg's pattern lists once.
func NewGenerator(cfg Config) (*Generator, error) {
	delimiter := cfg.Delimiter
	if delimiter == "" {
		delimiter = "|"
	}

	maxFrames := cfg.MaximumFrameCount
	if maxFrames <= 0 {
		maxFrames = 10
	}

	skip, err := joinPatterns(cfg.SkipPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile skip patterns: %w", err)
	}

	end, err := joinPatterns(cfg.EndPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile end patterns: %w", err)
	}

	return &Generator{skip: skip, end: end, delimiter: delimiter, maxFrames: maxFrames}, nil
}

func joinPatterns(patterns []string) (*regexp2.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	grouped := make([]string, len(patterns))
	for i, p := range patterns {
		grouped[i] = "(?:" + p + ")"
	}

	return regexp2.Compile(strings.Join(grouped, "|"), regexp2.None)
}

func matches(re *regexp2.Regexp, s string) bool {
	if re == nil {
		return false
	}
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// Generate runs the full pipeline over ct's frames: flatten inlines,
// render each frame, filter by skip/end patterns, truncate, and join.
func (g *Generator) Generate(ct CrashingThread) string {
	flat := flatten(ct.Frames)

	var sigs []string
	for _, f := range flat {
		sig := frameSignature(f)
		if sig == "" {
			continue
		}
		if matches(g.skip, sig) {
			continue
		}

		sigs = append(sigs, sig)

		if matches(g.end, sig) {
			break
		}
	}

	if len(sigs) > g.maxFrames {
		sigs = sigs[:g.maxFrames]
	}

	if len(sigs) == 0 {
		return "NONE"
	}

	return strings.Join(sigs, g.delimiter)
}

// frameSignature computes the per-frame signature per spec §4.6 step 2.
func frameSignature(f Frame) string {
	prefix := modulePrefix(f.Module)

	switch {
	case f.Function != "":
		return prefix + condense(f.Function)
	case f.File != "" && f.Line != nil:
		return prefix + basename(f.File) + "#" + strconv.Itoa(*f.Line)
	case prefix != "":
		return prefix
	default:
		return ""
	}
}

func modulePrefix(module string) string {
	if module == "" {
		return ""
	}
	return basename(module) + "!"
}

// basename strips everything up to and including the last '/' or '\'.
func basename(path string) string {
	idx := strings.LastIndexAny(path, `/\`)
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}
