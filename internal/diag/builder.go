package diag

func New(sev Severity, code Code, primary Where, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func (d Diagnostic) WithNote(w Where, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Where: w, Msg: msg})
	return d
}
