package nodeconn

// errState remembers the outcome of the last connect attempt so that a pool
// that keeps failing, or keeps succeeding on the same route, does not repeat
// the same log line on every attempt.
type errState struct {
	hasSuccess       bool
	lastHost         string
	lastProtocol     Protocol
	lastCompleteFail bool
}

func (s *errState) equalsLastSuccess(host string, proto Protocol) bool {
	return s.hasSuccess && s.lastHost == host && s.lastProtocol == proto
}

func (s *errState) shouldLogConnected(host string, proto Protocol) bool {
	return s.lastCompleteFail || !s.hasSuccess || !s.equalsLastSuccess(host, proto)
}

func (s *errState) shouldLogConnectFailed(host string, proto Protocol) bool {
	return !s.lastCompleteFail && (!s.hasSuccess || s.equalsLastSuccess(host, proto))
}

func (s *errState) setSuccess(host string, proto Protocol) {
	s.hasSuccess = true
	s.lastHost = host
	s.lastProtocol = proto
	s.lastCompleteFail = false
}

func (s *errState) setCompleteFail() {
	s.hasSuccess = false
	s.lastHost = ""
	s.lastCompleteFail = true
}
