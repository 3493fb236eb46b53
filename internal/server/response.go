package server

import (
	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

// relatedPayload carries the tags and attachments referenced by the notes in
// a response. Each appears once, in order of first reference, and only while
// it still exists.
type relatedPayload struct {
	Tags        []notebook.Tag        `json:"tags"`
	Attachments []notebook.Attachment `json:"attachments"`
}

type responsePayload struct {
	Data    any            `json:"data"`
	Related relatedPayload `json:"related"`
}

func simpleResponse(data any) responsePayload {
	return responsePayload{
		Data: data,
		Related: relatedPayload{
			Tags:        []notebook.Tag{},
			Attachments: []notebook.Attachment{},
		},
	}
}

func (h *httpHandler) noteResponse(note notebook.Note) responsePayload {
	return responsePayload{Data: note, Related: h.buildRelated([]notebook.Note{note})}
}

func (h *httpHandler) notesResponse(notes []notebook.Note) responsePayload {
	if notes == nil {
		notes = []notebook.Note{}
	}
	return responsePayload{Data: notes, Related: h.buildRelated(notes)}
}

func (h *httpHandler) buildRelated(notes []notebook.Note) relatedPayload {
	related := relatedPayload{
		Tags:        []notebook.Tag{},
		Attachments: []notebook.Attachment{},
	}
	seenTags := make(map[snowflake.ID]struct{})
	seenAttachments := make(map[snowflake.ID]struct{})

	for _, note := range notes {
		for _, tagID := range note.Fields.Tags {
			if _, seen := seenTags[tagID]; seen {
				continue
			}
			seenTags[tagID] = struct{}{}
			if tag, ok := h.notebook.Tag(tagID); ok {
				related.Tags = append(related.Tags, tag)
			}
		}
		for _, attachmentID := range note.Fields.Attachments {
			if _, seen := seenAttachments[attachmentID]; seen {
				continue
			}
			seenAttachments[attachmentID] = struct{}{}
			if attachment, ok := h.notebook.Attachment(attachmentID); ok {
				related.Attachments = append(related.Attachments, attachment)
			}
		}
	}
	return related
}
