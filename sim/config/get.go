package config

// Typed getters. Each resolves the raw value (configured value, else the
// declared default), substitutes variables and parses it according to the
// option's declared type. Failures are returned as *Error naming the option.

func checkType(opt *Option, perObject bool, want Type) error {
	if opt.PerObject != perObject {
		if opt.PerObject {
			return Errorf(opt.Name, "", "option is read in the wrong way: it is a per-object option")
		}
		return Errorf(opt.Name, "", "option is read in the wrong way: it is a global option")
	}
	if opt.Type != want {
		return Errorf(opt.Name, "", "option is read with the wrong type (type=%s, actual=%s)", want, opt.Type)
	}
	return nil
}

// raw returns the substituted text of opt and whether any value (configured
// or default) exists.
func raw(cfg Configuration, objectPath string, opt *Option) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	if opt.PerObject {
		v, ok = cfg.PerObjectValue(objectPath, opt.Name)
	} else {
		v, ok = cfg.ConfigValue(opt.Name)
	}
	if !ok {
		if opt.Default == "" {
			return "", false, nil
		}
		v = opt.Default
	}
	s, err := cfg.Substitute(v)
	if err != nil {
		return "", false, wrap(opt, objectPath, err)
	}
	return s, true, nil
}

func wrap(opt *Option, objectPath string, err error) error {
	return &Error{Option: opt.Name, Object: objectPath, Msg: "could not read option from the configuration", Err: err}
}

func getBool(cfg Configuration, objectPath string, opt *Option, fallback bool) (bool, error) {
	s, ok, err := raw(cfg, objectPath, opt)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := ParseBool(s)
	if err != nil {
		return fallback, wrap(opt, objectPath, err)
	}
	return v, nil
}

func getInt(cfg Configuration, objectPath string, opt *Option, fallback int64) (int64, error) {
	s, ok, err := raw(cfg, objectPath, opt)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := ParseInt(s)
	if err != nil {
		return fallback, wrap(opt, objectPath, err)
	}
	return v, nil
}

func getDouble(cfg Configuration, objectPath string, opt *Option, fallback float64) (float64, error) {
	s, ok, err := raw(cfg, objectPath, opt)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := ParseQuantity(s, opt.Unit)
	if err != nil {
		return fallback, wrap(opt, objectPath, err)
	}
	return v, nil
}

func getString(cfg Configuration, objectPath string, opt *Option, fallback string) (string, error) {
	s, ok, err := raw(cfg, objectPath, opt)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := ParseString(s)
	if err != nil {
		return fallback, wrap(opt, objectPath, err)
	}
	return v, nil
}

// GetBool reads a global boolean option.
func GetBool(cfg Configuration, opt *Option, fallback bool) (bool, error) {
	if err := checkType(opt, false, TypeBool); err != nil {
		return fallback, err
	}
	return getBool(cfg, "", opt, fallback)
}

// GetInt reads a global integer option.
func GetInt(cfg Configuration, opt *Option, fallback int64) (int64, error) {
	if err := checkType(opt, false, TypeInt); err != nil {
		return fallback, err
	}
	return getInt(cfg, "", opt, fallback)
}

// GetDouble reads a global floating-point option converted to opt.Unit.
func GetDouble(cfg Configuration, opt *Option, fallback float64) (float64, error) {
	if err := checkType(opt, false, TypeDouble); err != nil {
		return fallback, err
	}
	return getDouble(cfg, "", opt, fallback)
}

// GetString reads a global string option.
func GetString(cfg Configuration, opt *Option, fallback string) (string, error) {
	if err := checkType(opt, false, TypeString); err != nil {
		return fallback, err
	}
	return getString(cfg, "", opt, fallback)
}

// GetCustom returns the substituted raw text of a global custom-typed option.
func GetCustom(cfg Configuration, opt *Option, fallback string) (string, error) {
	if err := checkType(opt, false, TypeCustom); err != nil {
		return fallback, err
	}
	s, ok, err := raw(cfg, "", opt)
	if err != nil || !ok {
		return fallback, err
	}
	return s, nil
}

// GetFilename reads a global file name, resolved against the base directory.
func GetFilename(cfg Configuration, opt *Option) (string, error) {
	if err := checkType(opt, false, TypeFilename); err != nil {
		return "", err
	}
	s, _, err := raw(cfg, "", opt)
	if err != nil {
		return "", err
	}
	return ParseFilename(s, cfg.BaseDirectory()), nil
}

// GetFilenames reads a global list of file names.
func GetFilenames(cfg Configuration, opt *Option) ([]string, error) {
	if err := checkType(opt, false, TypeFilenames); err != nil {
		return nil, err
	}
	s, _, err := raw(cfg, "", opt)
	if err != nil {
		return nil, err
	}
	return ParseFilenames(s, cfg.BaseDirectory()), nil
}

// GetPath reads a global directory list.
func GetPath(cfg Configuration, opt *Option) (string, error) {
	if err := checkType(opt, false, TypePath); err != nil {
		return "", err
	}
	s, _, err := raw(cfg, "", opt)
	if err != nil {
		return "", err
	}
	return AdjustPath(s, cfg.BaseDirectory()), nil
}

// GetBoolFor reads a per-object boolean option for objectPath.
func GetBoolFor(cfg Configuration, objectPath string, opt *Option, fallback bool) (bool, error) {
	if err := checkType(opt, true, TypeBool); err != nil {
		return fallback, err
	}
	return getBool(cfg, objectPath, opt, fallback)
}

// GetIntFor reads a per-object integer option for objectPath.
func GetIntFor(cfg Configuration, objectPath string, opt *Option, fallback int64) (int64, error) {
	if err := checkType(opt, true, TypeInt); err != nil {
		return fallback, err
	}
	return getInt(cfg, objectPath, opt, fallback)
}

// GetDoubleFor reads a per-object floating-point option for objectPath.
func GetDoubleFor(cfg Configuration, objectPath string, opt *Option, fallback float64) (float64, error) {
	if err := checkType(opt, true, TypeDouble); err != nil {
		return fallback, err
	}
	return getDouble(cfg, objectPath, opt, fallback)
}

// GetStringFor reads a per-object string option for objectPath.
func GetStringFor(cfg Configuration, objectPath string, opt *Option, fallback string) (string, error) {
	if err := checkType(opt, true, TypeString); err != nil {
		return fallback, err
	}
	return getString(cfg, objectPath, opt, fallback)
}

// IsSet reports whether a global option is explicitly configured.
func IsSet(cfg Configuration, opt *Option) bool {
	_, ok := cfg.ConfigValue(opt.Name)
	return ok
}
