package config

import "testing"

func validConfig() *Config {
	var c Config
	c.Gateway.Host = "0.0.0.0:8080"
	c.Autonomy.MaxActionsPerHour = 10
	c.Gateway.MaxEventsPerMinute = 60
	c.Cost.DefaultTemperature = 0.7
	return &c
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_RejectsEmptyGatewayHost(t *testing.T) {
	c := validConfig()
	c.Gateway.Host = ""
	if err := Validate(c); err == nil {
		t.Fatal("expected error for empty gateway.host")
	}
}

func TestValidate_RejectsZeroActionLimit(t *testing.T) {
	c := validConfig()
	c.Autonomy.MaxActionsPerHour = 0
	if err := Validate(c); err == nil {
		t.Fatal("expected error for zero max_actions_per_hour")
	}
}

func TestValidate_RejectsZeroEventLimit(t *testing.T) {
	c := validConfig()
	c.Gateway.MaxEventsPerMinute = 0
	if err := Validate(c); err == nil {
		t.Fatal("expected error for zero max_events_per_minute")
	}
}

func TestValidate_RejectsOutOfRangeTemperature(t *testing.T) {
	for _, temp := range []float64{-0.1, 2.1} {
		c := validConfig()
		c.Cost.DefaultTemperature = temp
		if err := Validate(c); err == nil {
			t.Errorf("expected error for default_temperature=%v", temp)
		}
	}
}

func TestValidate_RejectsInvalidEnvVarName(t *testing.T) {
	c := validConfig()
	c.Autonomy.ShellEnvPassthrough = []string{"1INVALID"}
	if err := Validate(c); err == nil {
		t.Fatal("expected error for invalid env var name")
	}
}

func TestValidate_RejectsIncompleteRoute(t *testing.T) {
	c := validConfig()
	c.Cost.Routes = []ClassifierRoute{{Hint: "code", Provider: "", Model: "gpt-4o"}}
	if err := Validate(c); err == nil {
		t.Fatal("expected error for route missing provider")
	}
}

func TestValidate_RejectsOllamaCloudMisconfiguration(t *testing.T) {
	c := validConfig()
	c.Cost.Routes = []ClassifierRoute{{Hint: "code", Provider: "ollama", Model: "llama3:cloud"}}
	if err := Validate(c); err == nil {
		t.Fatal("expected error for ollama provider with :cloud model tag")
	}
}

func TestValidate_AllowsOllamaNonCloudModel(t *testing.T) {
	c := validConfig()
	c.Cost.Routes = []ClassifierRoute{{Hint: "code", Provider: "ollama", Model: "llama3"}}
	if err := Validate(c); err != nil {
		t.Errorf("Validate() = %v, want nil for non-cloud ollama model", err)
	}
}
