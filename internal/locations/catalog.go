package locations

// Default is the built-in world map.
func Default() *Registry {
	return MustRegistry([]Location{
		{
			ID:   "hospital",
			Name: "Hospital",
			Icon: "🏥",
			SubLocations: []SubLocation{
				{Name: "Recepção", Icon: "🛎️"},
				{Name: "Sala 1", Icon: "🩺"},
				{Name: "Sala 2", Icon: "🩺"},
				{Name: "Sala 3", Icon: "🩺"},
				{Name: "Centro Cirúrgico", Icon: "🔪", Access: AccessRoleGated, Roles: []string{"doctor", "nurse"}},
				{Name: "UTI", Icon: "❤️‍🩹", Access: AccessRestricted, Roles: []string{"doctor", "nurse"}},
			},
		},
		{
			ID:   "bakery",
			Name: "Padaria",
			Icon: "🥐",
			SubLocations: []SubLocation{
				{Name: "Balcão", Icon: "🧁"},
				{Name: "Cozinha", Icon: "👩‍🍳", Access: AccessRestricted, Roles: []string{"baker"}},
				{Name: "Mesas", Icon: "☕"},
			},
		},
		{
			ID:   "house",
			Name: "Casa",
			Icon: "🏠",
			SubLocations: []SubLocation{
				{Name: "Sala de Estar", Icon: "🛋️"},
				{Name: "Cozinha", Icon: "🍳"},
				{Name: "Quarto", Icon: "🛏️", Access: AccessRestricted},
			},
		},
		{
			ID:   "nightclub",
			Name: "Boate",
			Icon: "🪩",
			SubLocations: []SubLocation{
				{Name: "Pista", Icon: "💃"},
				{Name: "Bar", Icon: "🍸", Access: AccessRoleGated, MinAge: 18},
				{Name: "Camarote", Icon: "🥂", Access: AccessRestricted},
			},
		},
	})
}
