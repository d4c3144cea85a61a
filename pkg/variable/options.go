package variable

// Option configures a descriptor at declaration time. Options that do not
// apply to a descriptor kind are ignored by it.
type Option func(*options)

type options struct {
	dims         []Dims
	dimsSet      bool
	intent       Intent
	optional     bool
	defaultValue any
	hasDefault   bool
	validators   []Validator
	description  string
	attrs        map[string]any
	groups       []string
}

func collect(opts []Option) options {
	o := options{intent: IntentIn}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if !o.dimsSet {
		o.dims = []Dims{Scalar}
	}
	return o
}

// WithDims sets the accepted dimension labels. A variable accepting both
// scalars and 1-d values uses WithDims(Scalar, Dims{"x"}).
func WithDims(dims ...Dims) Option {
	return func(o *options) {
		o.dims = append([]Dims(nil), dims...)
		o.dimsSet = true
	}
}

// WithIntent sets the intent.
func WithIntent(intent Intent) Option {
	return func(o *options) { o.intent = intent }
}

// Optional marks a variable whose value may be left unset.
func Optional() Option {
	return func(o *options) { o.optional = true }
}

// WithDefault sets the initial value of the variable.
func WithDefault(value any) Option {
	return func(o *options) {
		o.defaultValue = value
		o.hasDefault = true
	}
}

// WithValidators appends validators run after the dimension check.
func WithValidators(validators ...Validator) Option {
	return func(o *options) { o.validators = append(o.validators, validators...) }
}

// WithDescription sets a short, one-line description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithAttrs sets free-form metadata such as units or standard names.
func WithAttrs(attrs map[string]any) Option {
	return func(o *options) {
		o.attrs = make(map[string]any, len(attrs))
		for k, v := range attrs {
			o.attrs[k] = v
		}
	}
}

// InGroups declares membership in the named groups.
func InGroups(groups ...string) Option {
	return func(o *options) { o.groups = append(o.groups, groups...) }
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
