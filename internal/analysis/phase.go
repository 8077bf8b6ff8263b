package analysis

// Phase is the application state the presentation renders from.
type Phase int

const (
	PhaseUpload Phase = iota
	PhaseCredentialRequired
	PhaseAnalyzing
	PhaseReport
)

func (p Phase) String() string {
	switch p {
	case PhaseUpload:
		return "upload"
	case PhaseCredentialRequired:
		return "credential-required"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseReport:
		return "report"
	default:
		return "unknown"
	}
}

// Progress labels emitted before each pipeline call.
const (
	LabelAnalyzing = "Synthesizing energy axis between walls..."
	LabelRendering = "Generating high-precision architectural 3D render..."
)
