package job

// remoteShare is the part of the 0-100 scale given to the remote render.
const remoteShare = ProgressDone - ProgressSubmitted

// Translate maps a provider report onto the job's visible progress. Remote
// progress lands in [30, 99]; 100 is reserved for the local finalize step.
func Translate(state RemoteState, remotePercent int) (progress int, terminal bool) {
	if remotePercent < 0 {
		remotePercent = 0
	}
	if remotePercent > 100 {
		remotePercent = 100
	}

	progress = ProgressSubmitted + remotePercent*remoteShare/100
	if progress >= ProgressDone {
		progress = ProgressDone - 1
	}

	switch state {
	case RemoteCompleted, RemoteFailed:
		return progress, true
	default:
		return progress, false
	}
}
