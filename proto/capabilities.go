package proto

func HasStream(streams []uint64, stream uint64) bool {
	for _, s := range streams {
		if s == stream {
			return true
		}
	}

	return false
}
