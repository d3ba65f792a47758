package discovery

type Option func(d *Discovery)

// WithSniff accepts files with unknown extensions whose header decodes as
// a supported format.
func WithSniff(sniff bool) Option {
	return func(d *Discovery) {
		d.sniff = sniff
	}
}

// WithExclude skips the given directories and everything below them.
func WithExclude(dirs ...string) Option {
	return func(d *Discovery) {
		for _, dir := range dirs {
			d.exclude = append(d.exclude, absPath(dir))
		}
	}
}
