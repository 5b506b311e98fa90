// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import (
	"encoding/base64"
	"fmt"
)

// Section identifies one part of the four-section clinical summary.
type Section string

const (
	SectionSubjective Section = "subjective"
	SectionObjective  Section = "objective"
	SectionAssessment Section = "assessment"
	SectionPlan       Section = "plan"
)

// Sections lists all summary sections in canonical order.
var Sections = []Section{
	SectionSubjective,
	SectionObjective,
	SectionAssessment,
	SectionPlan,
}

const transcribeInstruction = `You are a medical transcriptionist. The following is a base64-encoded audio recording of a clinician's dictated voice note (%s). Transcribe the speech verbatim into plain text. Output only the transcript, with no commentary.

Audio:
%s`

// proofreadInstruction is a model-behavior contract: the no-new-facts
// rule is enforced by instruction text only, there is no automated
// verification.
const proofreadInstruction = `You are proofreading a clinician's dictated note. Expand common clinical shorthand (e.g. "pt" to "patient", "hx" to "history", "sob" to "shortness of breath"), fix grammar and punctuation, and remove filler words. You must not add, remove, or alter any clinical fact. Output only the cleaned text.

Note:
%s`

var sectionInstructions = map[Section]string{
	SectionSubjective: `From the clinical note below, write the SUBJECTIVE section of a SOAP note: the patient's reported symptoms, history, and concerns, in their own terms. Use only information present in the note. Output only the section text.

Note:
%s`,
	SectionObjective: `From the clinical note below, write the OBJECTIVE section of a SOAP note: observable findings, vitals, and examination results. Use only information present in the note. Output only the section text.

Note:
%s`,
	SectionAssessment: `From the clinical note below, write the ASSESSMENT section of a SOAP note: the clinician's working diagnosis or clinical impression. Use only information present in the note. Output only the section text.

Note:
%s`,
	SectionPlan: `From the clinical note below, write the PLAN section of a SOAP note: next steps, treatments, referrals, and follow-up. Use only information present in the note. Output only the section text.

Note:
%s`,
}

func transcribePrompt(clip Clip) string {
	encoded := base64.StdEncoding.EncodeToString(clip.Data)
	return fmt.Sprintf(transcribeInstruction, clip.MIMEType, encoded)
}

func proofreadPrompt(text string) string {
	return fmt.Sprintf(proofreadInstruction, text)
}

func sectionPrompt(section Section, transcript string) string {
	return fmt.Sprintf(sectionInstructions[section], transcript)
}
