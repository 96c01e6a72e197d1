package registry

// DetectorPlugins is the iterable collection of all active plugins
var DetectorPlugins []DetectorPlugin

// DetectorPlugin defines the high level functions every family detector has
// to provide.
type DetectorPlugin interface {
	Name() string
	ReInitialize() error
	Detect(Sample) (string, bool, error)
}

// RegisterDetectorPlugin makes a detector plugin available for usage
func RegisterDetectorPlugin(p DetectorPlugin) {
	DetectorPlugins = append(DetectorPlugins, p)
}

// Sample is the struct passed to every plugin: the text of a device's
// system information file.
type Sample struct {
	Device  string
	Path    string
	Archive string
	Text    []byte
}
