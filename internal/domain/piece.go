package domain

// PieceEvent is a completion notification emitted by an attachment when a
// piece requested with an alert becomes available. Err is set when the data
// could not be read back from piece storage.
type PieceEvent struct {
	Index int
	Data  []byte
	Err   error
}

// PieceLocation maps a byte offset to the piece holding it and the offset
// inside that piece.
func PieceLocation(offset, pieceLength int64) (index int, intra int64) {
	if pieceLength <= 0 || offset < 0 {
		return 0, 0
	}
	return int(offset / pieceLength), offset % pieceLength
}

// PieceSize returns the length of piece index for content of totalSize bytes.
// Every piece is pieceLength long except possibly the last one.
func PieceSize(index int, pieceLength, totalSize int64) int64 {
	if index < 0 || pieceLength <= 0 {
		return 0
	}
	start := int64(index) * pieceLength
	if start >= totalSize {
		return 0
	}
	if rest := totalSize - start; rest < pieceLength {
		return rest
	}
	return pieceLength
}

// NumPieces returns how many pieces of pieceLength cover totalSize bytes.
func NumPieces(pieceLength, totalSize int64) int {
	if pieceLength <= 0 || totalSize <= 0 {
		return 0
	}
	return int((totalSize + pieceLength - 1) / pieceLength)
}
