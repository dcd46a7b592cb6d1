package metadata

import "maps"

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppName is the application name stamped on every object this tool writes.
	AppName = "webhook-bootstrap"

	// ManagedBy identifies this tool as the writer of an object.
	ManagedBy = "webhook-bootstrap"

	// ComponentCertificate identifies the certificate Secret.
	ComponentCertificate = "webhook-certificate"
)

// BuildStandardLabels returns the standard labels for an object written by
// this tool. instance is usually the object's own name.
func BuildStandardLabels(instance, component string) map[string]string {
	return map[string]string{
		LabelAppName:      AppName,
		LabelAppInstance:  instance,
		LabelAppComponent: component,
		LabelAppManagedBy: ManagedBy,
	}
}

// MergeLabels merges custom labels with standard labels.
//
// Standard labels take precedence over custom labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)
	maps.Copy(merged, customLabels)
	maps.Copy(merged, standardLabels)
	return merged
}
