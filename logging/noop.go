package logging

// NoopLogger drops everything. Its zero value is ready to use, and OrNoop
// hands it out wherever a component was built without a logger.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}
