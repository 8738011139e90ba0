package client

import "os"

const APIKeyEnv = "MASSIVE_API_KEY"

// Credential API key。所有格式化输出都打码，只有 Expose 返回明文
type Credential string

func CredentialFromEnv() Credential { return Credential(os.Getenv(APIKeyEnv)) }

func (c Credential) Expose() string { return string(c) }
func (c Credential) Empty() bool    { return c == "" }

func (c Credential) String() string   { return "Credential(***)" }
func (c Credential) GoString() string { return c.String() }

func (c Credential) MarshalText() ([]byte, error) { return []byte("***"), nil }
