package registry

import "strings"

// Task bundle conventions: migration scripts are attached to bundle images
// as OCI referrer artifacts of the shell-script artifact type, linked by
// these annotations at publish time.
const (
	// AnnotationHasMigration marks a bundle manifest whose version ships a
	// migration script.
	AnnotationHasMigration = "dev.konflux-ci.task.has-migration"

	// AnnotationIsMigration marks the referrer descriptor that carries the
	// migration script.
	AnnotationIsMigration = "dev.konflux-ci.task.is-migration"

	// AnnotationTruthValue is the value both annotations use for "true".
	AnnotationTruthValue = "true"

	// ArtifactTypeScript is the artifact type of migration script referrers.
	ArtifactTypeScript = "text/x-shellscript"
)

// IsTrue reports whether an annotation value means true.
func IsTrue(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), AnnotationTruthValue)
}
