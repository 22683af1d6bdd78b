package ingestion

import (
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/invoiceos/docstack/internal/utils"
)

// SelectedPart describes one MIME leaf chosen for ingestion. Path is the
// IMAP part path used for BODY.PEEK[path] fetches; Index is the position
// of the part among the message's candidates and forms the ledger identity.
type SelectedPart struct {
	Path     []int
	Index    int
	MIMEType string
	Filename string
	Size     uint32
	Encoding string
	Score    int
}

// documentMIMETypes are part types accepted regardless of disposition.
var documentMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-excel": true,
	"text/csv":                 true,
}

// imageMIMETypes are accepted only when the part is an explicit attachment,
// which keeps inline logos and signature images out.
var imageMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/tiff": true,
}

var documentExtensions = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"xls":  true,
	"xlsx": true,
	"csv":  true,
}

var imageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"tif":  true,
	"tiff": true,
}

// SelectAttachment walks the BODYSTRUCTURE and returns the best-scoring
// candidate part, or nil when the message carries nothing worth ingesting.
// Ordering: MIME-type matches outrank filename-extension matches, and
// PDF-class parts outrank office and image parts. Ties keep tree order.
func SelectAttachment(bs *goimap.BodyStructure) *SelectedPart {
	candidates := collectCandidates(bs)
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

func collectCandidates(bs *goimap.BodyStructure) []*SelectedPart {
	var candidates []*SelectedPart
	index := 0
	walkParts(bs, nil, func(path []int, part *goimap.BodyStructure) {
		mimeType := strings.ToLower(part.MIMEType + "/" + part.MIMESubType)
		filename := partFilename(part)
		disposition := strings.ToLower(part.Disposition)

		score, ok := ScoreCandidate(mimeType, filename, disposition)
		if !ok {
			return
		}

		// A non-multipart message body has the implicit part path "1"
		partPath := path
		if len(partPath) == 0 {
			partPath = []int{1}
		}

		candidates = append(candidates, &SelectedPart{
			Path:     append([]int(nil), partPath...),
			Index:    index,
			MIMEType: mimeType,
			Filename: filename,
			Size:     part.Size,
			Encoding: strings.ToLower(part.Encoding),
			Score:    score,
		})
		index++
	})
	return candidates
}

// walkParts visits every leaf of the MIME tree depth-first, carrying the
// 1-based IMAP part path. Multipart containers themselves are not visited.
func walkParts(bs *goimap.BodyStructure, path []int, visit func(path []int, part *goimap.BodyStructure)) {
	if bs == nil {
		return
	}
	if len(bs.Parts) == 0 {
		visit(path, bs)
		return
	}
	for i, child := range bs.Parts {
		walkParts(child, append(path, i+1), visit)
	}
}

// ScoreCandidate decides whether a part qualifies for ingestion and how it
// ranks against its siblings. The same rules apply to parsed envelopes when
// a server returns no BODYSTRUCTURE.
func ScoreCandidate(mimeType, filename, disposition string) (int, bool) {
	ext := strings.ToLower(utils.FileExtension(filename))

	isDocType := documentMIMETypes[mimeType]
	isImageType := imageMIMETypes[mimeType]
	isDocExt := documentExtensions[ext]
	isImageExt := imageExtensions[ext]
	isAttachment := disposition == "attachment"

	qualifies := false
	switch {
	case isAttachment && (isDocType || isImageType || isDocExt || isImageExt):
		qualifies = true
	case isDocType:
		// Recognizable document types qualify regardless of disposition
		qualifies = true
	case isDocExt:
		// Inline or undeclared parts qualify on a document extension alone
		qualifies = true
	}
	if !qualifies {
		return 0, false
	}

	score := 0
	switch {
	case mimeType == "application/pdf" || ext == "pdf":
		score = 300
	case isDocType || isDocExt:
		score = 200
	default:
		score = 100
	}
	if isDocType || isImageType {
		score += 40
	}
	if isDocExt || isImageExt {
		score += 20
	}
	if isAttachment {
		score += 10
	}
	return score, true
}

func partFilename(part *goimap.BodyStructure) string {
	if name, ok := part.DispositionParams["filename"]; ok && name != "" {
		return name
	}
	if name, ok := part.Params["name"]; ok && name != "" {
		return name
	}
	return ""
}

// SummarizeTree renders the MIME tree as compact "type(size)" tokens for
// log lines when no candidate is found.
func SummarizeTree(bs *goimap.BodyStructure) string {
	var parts []string
	walkParts(bs, nil, func(_ []int, part *goimap.BodyStructure) {
		token := strings.ToLower(part.MIMEType + "/" + part.MIMESubType)
		if name := partFilename(part); name != "" {
			token += ":" + name
		}
		parts = append(parts, token)
	})
	return strings.Join(parts, ", ")
}
