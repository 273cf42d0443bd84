package wrap

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// TrackedFunction is one of the data fetching functions the rewriter wraps.
type TrackedFunction struct {
	// Name is the module level binding name.
	Name string
	// Placeholder is the template token standing in for the alias of the original function.
	Placeholder string
}

// TrackedFunctions returns a fresh registry in the fixed order functions are processed.
func TrackedFunctions() []TrackedFunction {
	return []TrackedFunction{
		{Name: "getServerSideProps", Placeholder: "__ORIG_GSSP__"},
		{Name: "getStaticProps", Placeholder: "__ORIG_GSPROPS__"},
		{Name: "getStaticPaths", Placeholder: "__ORIG_GSPATHS__"},
	}
}

// Status describes the outcome of one rewrite.
type Status int

const (
	// StatusRewritten means the template was spliced in.
	StatusRewritten Status = iota
	// StatusNoTrackedNames means no tracked name appears in the text at all.
	StatusNoTrackedNames
	// StatusNotModule means the text does not use module syntax.
	StatusNotModule
	// StatusParseFailed means the text failed to parse and was passed through.
	StatusParseFailed
	// StatusNoBindings means tracked names only appeared as labels, such as property keys.
	StatusNoBindings
)

var statusNames = [...]string{
	StatusRewritten:      "rewritten",
	StatusNoTrackedNames: "no-tracked-names",
	StatusNotModule:      "not-module",
	StatusParseFailed:    "parse-failed",
	StatusNoBindings:     "no-bindings",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Changed reports if the output differs from the input.
func (s Status) Changed() bool {
	return s == StatusRewritten
}

// RewriteOptions describe the module being rewritten.
type RewriteOptions struct {
	// Path identifies the module in diagnostics.
	Path string
	// Dialect selects the grammar used for the module.
	Dialect Dialect
	// Route is the parameterized page route handed to the wrappers. Empty keeps the template default.
	Route string
}

// Result is the outcome of one rewrite.
type Result struct {
	// Output is the rewritten module, or the original text when Status is not StatusRewritten.
	Output []byte
	Status Status
	// Aliases maps each wrapped function name to the name its original was moved to.
	Aliases map[string]string
	// Diagnostic holds the parse error text when Status is StatusParseFailed.
	Diagnostic string
}

// esmSyntaxRe matches a top level import or export statement. The keyword must stand alone, so dynamic import(),
// exports.name and similar identifiers do not count.
var esmSyntaxRe = regexp.MustCompile(`(?m)^[ \t]*(?:import(?:[ \t]+[\w{*'"]|[ \t]*[{*'"])|export(?:[ \t]+[\w{*]|[ \t]*[{*]))`)

const moduleSeparator = "\n"

// Rewriter splices the wrapper template into page modules. It holds only read-only state and can be shared.
type Rewriter struct {
	logger   *zap.Logger
	template *Template
}

// RewriterOption configures a Rewriter.
type RewriterOption func(*Rewriter)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(logger *zap.Logger) RewriterOption {
	return func(r *Rewriter) {
		r.logger = logger
	}
}

// WithTemplate replaces the embedded template.
func WithTemplate(t *Template) RewriterOption {
	return func(r *Rewriter) {
		r.template = t
	}
}

// NewRewriter creates a Rewriter using the embedded template unless another is supplied.
func NewRewriter(opts ...RewriterOption) (*Rewriter, error) {
	r := &Rewriter{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.template == nil {
		t, err := DefaultTemplate()
		if err != nil {
			return nil, err
		}
		r.template = t
	}
	return r, nil
}

// Template returns the template the rewriter splices in.
func (r *Rewriter) Template() *Template {
	return r.template
}

// Rewrite renames the tracked functions defined by src and appends the wrapper template calling through to them.
// Text that cannot be handled is returned unchanged with a Status explaining why; a parse failure additionally logs
// one warning. Errors are only returned for ErrTemplateDefect conditions.
func (r *Rewriter) Rewrite(src []byte, opts RewriteOptions) (Result, error) {
	functions := TrackedFunctions()
	if !containsAnyName(src, functions) {
		return Result{Output: src, Status: StatusNoTrackedNames}, nil
	} else if !esmSyntaxRe.Match(src) {
		return Result{Output: src, Status: StatusNotModule}, nil
	}

	userTree, err := ParseSource(opts.Path, src, opts.Dialect)
	if err != nil {
		r.logger.Warn("unable to wrap data fetchers, module failed to parse",
			zap.String("path", opts.Path), zap.Error(err))
		return Result{Output: src, Status: StatusParseFailed, Diagnostic: err.Error()}, nil
	}
	templateTree, err := r.template.parse()
	if err != nil {
		return Result{}, err
	}
	if opts.Route != "" {
		updateConstLiterals(templateTree, map[string]string{routeConstName: opts.Route})
	}

	aliases := wrapFunctions(userTree, templateTree, functions)
	if len(aliases) == 0 {
		return Result{Output: src, Status: StatusNoBindings}, nil
	}

	templateText, err := spliceAliases(string(templateTree.Render()), functions, aliases)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", r.template.Path, err)
	}
	userText := userTree.Render()
	var out bytes.Buffer
	out.Grow(len(userText) + len(moduleSeparator) + len(templateText))
	out.Write(userText)
	out.WriteString(moduleSeparator)
	out.WriteString(templateText)

	r.logger.Debug("wrapped data fetchers", zap.String("path", opts.Path), zap.Any("aliases", aliases))
	return Result{Output: out.Bytes(), Status: StatusRewritten, Aliases: aliases}, nil
}

func containsAnyName(src []byte, functions []TrackedFunction) bool {
	for _, fn := range functions {
		if bytes.Contains(src, []byte(fn.Name)) {
			return true
		}
	}
	return false
}

// wrapFunctions renames each tracked function the user tree binds and drops the template block of every other one.
// The returned map holds an alias for exactly the functions whose template block was kept.
func wrapFunctions(userTree, templateTree *SourceTree, functions []TrackedFunction) map[string]string {
	aliases := make(map[string]string, len(functions))
	for _, fn := range functions {
		if result, found := Rename(userTree, fn.Name, ""); found && result.Renamed > 0 {
			aliases[fn.Name] = result.Alias
			continue
		}
		removeFunctionBlock(templateTree, fn.Name)
	}
	return aliases
}

// spliceAliases substitutes each recorded alias for its placeholder. A placeholder must remain exactly when an
// alias was recorded for its function.
func spliceAliases(templateText string, functions []TrackedFunction, aliases map[string]string) (string, error) {
	for _, fn := range functions {
		count := strings.Count(templateText, fn.Placeholder)
		alias, ok := aliases[fn.Name]
		if !ok && count == 0 {
			continue
		} else if !ok {
			return "", fmt.Errorf("%w: placeholder %s remains without an alias", ErrTemplateDefect, fn.Placeholder)
		} else if count != 1 {
			return "", fmt.Errorf("%w: placeholder %s found %d times for alias %s",
				ErrTemplateDefect, fn.Placeholder, count, alias)
		}
		templateText = strings.Replace(templateText, fn.Placeholder, alias, 1)
	}
	return templateText, nil
}
