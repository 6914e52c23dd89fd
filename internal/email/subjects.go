package email

const (
	subjectViewingConfirmedFmt = "Your viewing is booked for %s"
)
