package mcpserver

// CheckpointFormatContract describes the JSON shapes of the artifacts that
// LLM consumers edit at checkpoint phases.
const CheckpointFormatContract = `# Case File Checkpoint Contract

A session tracks one dinner-party event, keyed by its 8-digit event date
(YYYYMMDD). Human or LLM edits happen only at three checkpoint phases, each
owning exactly one JSON artifact. Every save produces a new immutable version
that can be restored later via rollback_checkpoint.

## intake: inputs/selected-evidence.json

The curated subset of fetched evidence records that the report is built from.

` + "```" + `json
[
  {
    "id": "e42",
    "author": "table 3",
    "round": 2,
    "text": "I saw the caterer near the wine cart before the toast.",
    "tags": ["caterer", "wine"]
  }
]
` + "```" + `

## summaries: summaries/case-summaries.json

Narrative sections distilled from the evidence analysis. The ` + "`" + `degraded` + "`" + `
flag marks mechanically assembled output that needs human attention.

` + "```" + `json
{
  "sessionId": "20250614",
  "sections": [
    {"section": "round1", "title": "The Poisoned Glass", "text": "..."}
  ],
  "degraded": false
}
` + "```" + `

## draft: output/case-file.json

The assembled case file: title, sections, media captions, evidence count.
Editing the draft is the last chance to change wording before publish renders
it to HTML.

` + "```" + `json
{
  "sessionId": "20250614",
  "title": "Case File: About Last Night, 2025-06-14",
  "sections": [{"section": "round1", "title": "...", "text": "..."}],
  "media": [{"path": "group_photo.jpg", "caption": "the toast", "degraded": false}],
  "evidenceCount": 12
}
` + "```" + `

## Rules

1. **Content must be valid JSON** in the shape shown for the phase.
2. **Saves are versioned.** Every save_checkpoint call appends a new version;
   nothing is overwritten in place.
3. **Rollback is forward-only.** rollback_checkpoint restores an old snapshot
   as a NEW version; history is never rewritten.
4. **Phase names** are exactly: intake, summaries, draft.
5. **Session IDs** are 8 digits, YYYYMMDD (e.g. 20250614).
`
