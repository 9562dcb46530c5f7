package models

type Language struct {
	Id               string  `json:"id"`
	Name             string  `json:"name"`
	Version          string  `json:"version"`
	FileExtension    string  `json:"file_extension"`
	CompileCommand   string  `json:"compile_command"`
	RunCommand       string  `json:"run_command"`
	TimeMultiplier   float64 `json:"time_multiplier"`
	MemoryMultiplier float64 `json:"memory_multiplier"`
	Image            string  `json:"image"`
	IsActive         bool    `json:"is_active"`
	// Fixed source file name, for toolchains that derive names from it.
	SourceName string `json:"source_name,omitempty"`
}
