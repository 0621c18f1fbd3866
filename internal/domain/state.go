package domain

// AttachmentStats is a point-in-time view of one attachment.
type AttachmentStats struct {
	InfoHash        InfoHash `json:"infoHash"`
	Name            string   `json:"name"`
	TotalSize       int64    `json:"totalSize"`
	PieceLength     int64    `json:"pieceLength"`
	NumPieces       int      `json:"numPieces"`
	PiecesCompleted int      `json:"piecesCompleted"`
	PiecesServed    int      `json:"piecesServed"`
	PiecesPending   int      `json:"piecesPending"`
	BytesCompleted  int64    `json:"bytesCompleted"`
	Peers           int      `json:"peers"`
}
