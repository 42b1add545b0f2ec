package domain

// Category identifies the kind of business transaction a delivery belongs to.
type Category string

const (
	CategoryRegistration Category = "registration"
	CategoryReservation  Category = "reservation"
	CategoryBooking      Category = "booking"
	CategoryDonation     Category = "donation"
)

// KnownCategories lists every valid transaction category.
var KnownCategories = []Category{
	CategoryRegistration,
	CategoryReservation,
	CategoryBooking,
	CategoryDonation,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// ArtifactKind selects which cache tier a rendered artifact lives in.
type ArtifactKind string

const (
	ArtifactMarkup    ArtifactKind = "markup"    // rendered HTML/text fragments
	ArtifactBinary    ArtifactKind = "binary"    // rendered documents (PDF etc.)
	ArtifactComponent ArtifactKind = "component" // sub-components such as QR images
	ArtifactTemplate  ArtifactKind = "template"  // source templates
)

// ArtifactDescriptor identifies a renderable artifact: the cache key it is
// stored under plus the data needed to render it when absent. Data may be nil,
// in which case the orchestrator resolves it from the registration store by
// correlation id.
type ArtifactDescriptor struct {
	Kind     ArtifactKind
	CacheKey string
	Template string
	Data     map[string]any
}

// Renderable reports whether the descriptor carries enough to produce an
// artifact (a cache key and a known kind).
func (d ArtifactDescriptor) Renderable() bool {
	switch d.Kind {
	case ArtifactMarkup, ArtifactBinary, ArtifactComponent, ArtifactTemplate:
	default:
		return false
	}
	return d.CacheKey != ""
}

// DeliveryRequest asks the pipeline to hand one confirmation artifact to one
// recipient. It is created by the external trigger, consumed once, never
// mutated.
type DeliveryRequest struct {
	Recipient     string
	CorrelationID string
	Category      Category
	Artifact      ArtifactDescriptor
}
