package task

// Apply mutates t to reflect e, the next event committed for this task. It
// implements the artifact accumulation and status-transition invariants
// from the data model: artifact-update events with Append=true concatenate
// Parts onto the artifact sharing ArtifactID; the first LastChunk=true
// seals that artifact against further appends; a status update carrying
// Final=true sets t.Final and is the last status transition t will ever
// accept.
func (t *Task) Apply(e Event) {
	switch e.Kind {
	case EventTask:
		t.TaskID = e.TaskID
		t.ContextID = e.ContextID
		if e.Status != nil {
			t.Status = *e.Status
		}
	case EventStatusUpdate:
		if t.Final {
			return
		}
		if e.Status != nil {
			t.Status = *e.Status
		}
		if e.Final {
			t.Final = true
		}
	case EventArtifactUpdate:
		if e.Artifact == nil {
			return
		}
		t.applyArtifact(*e.Artifact, e.Append, e.LastChunk)
	case EventMessage:
		// Unassociated replies are not accumulated onto the task itself.
	}
}

func (t *Task) applyArtifact(a Artifact, appendParts, lastChunk bool) {
	for i := range t.Artifacts {
		existing := &t.Artifacts[i]
		if existing.ArtifactID != a.ArtifactID {
			continue
		}
		if existing.sealed {
			return
		}
		if appendParts {
			existing.Parts = append(existing.Parts, a.Parts...)
		} else {
			existing.Parts = a.Parts
		}
		if a.Name != "" {
			existing.Name = a.Name
		}
		if a.MimeType != "" {
			existing.MimeType = a.MimeType
		}
		if a.Description != "" {
			existing.Description = a.Description
		}
		if a.Metadata != nil {
			existing.Metadata = a.Metadata
		}
		if lastChunk {
			existing.sealed = true
		}
		return
	}
	a.sealed = lastChunk
	t.Artifacts = append(t.Artifacts, a)
}
