package agent

// Profile configures one specialist over the shared runtime: which intents it
// classifies into, how intents adjust confidence, and what follow-up actions
// each intent suggests.
type Profile struct {
	ID SpecialistID

	// SpecialistType is the descriptive type label stamped on responses,
	// e.g. "veterans_transition_specialist".
	SpecialistType string

	Description  string
	Capabilities []string

	// Intents the classifier may choose from; DefaultIntent is used when
	// classification fails or returns something outside this set.
	Intents       []string
	DefaultIntent string

	// FallbackKeywords maps lowercase substrings to intents. Consulted only
	// when the LLM classifier fails (method=fallback).
	FallbackKeywords map[string]string

	// BaseConfidence seeds scoring when the LLM scorer is unavailable.
	BaseConfidence float64

	// ConfidenceAdjustments shifts the scored confidence per intent; the
	// result is clamped to [0,1].
	ConfidenceAdjustments map[string]float64

	// NextActions is the intent-keyed follow-up table.
	NextActions map[string][]string

	Tools []string
}

// TypeOf returns the descriptive specialist type for an agent id, or the id
// itself when it is not a known agent.
func TypeOf(id SpecialistID) string {
	if p, ok := profiles[id]; ok {
		return p.SpecialistType
	}
	return string(id)
}

func (p *Profile) validIntent(intent string) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// profiles defines the eight agents. Intents mirror the template keys in each
// agent's prompt pack.
var profiles = map[SpecialistID]Profile{
	Pendo: {
		ID:             Pendo,
		SpecialistType: "supervisor",
		Description:    "supervisor: routing and coordination across the specialist team",
		Capabilities:   []string{"routing", "coordination", "delegation"},
		Intents:        []string{"greeting", "general_coordination", "specialist_routing"},
		DefaultIntent:  "general_coordination",
		FallbackKeywords: map[string]string{
			"hello": "greeting",
			"hi":    "greeting",
			"help":  "general_coordination",
		},
		BaseConfidence: 0.7,
		ConfidenceAdjustments: map[string]float64{
			"greeting":           0.2,
			"specialist_routing": 0.1,
		},
		NextActions: map[string][]string{
			"greeting":             {"Tell me about your background", "Ask about climate career paths"},
			"general_coordination": {"Share more about your situation", "Ask to speak with a specialist"},
			"specialist_routing":   {"Continue with the recommended specialist"},
		},
		Tools: []string{"specialist_registry", "partner_search"},
	},
	Alex: {
		ID:             Alex,
		SpecialistType: "empathy_specialist",
		Description:    "emotional support and crisis-aware guidance",
		Capabilities:   []string{"emotional_support", "crisis_detection", "stress_management"},
		Intents:        []string{"crisis_support", "emotional_support", "stress_management", "confidence_building"},
		DefaultIntent:  "emotional_support",
		FallbackKeywords: map[string]string{
			"hopeless":    "crisis_support",
			"overwhelmed": "stress_management",
			"stressed":    "stress_management",
			"confidence":  "confidence_building",
		},
		BaseConfidence: 0.65,
		ConfidenceAdjustments: map[string]float64{
			"crisis_support": 0.25,
		},
		NextActions: map[string][]string{
			"crisis_support":      {"Reach out to the 988 Lifeline", "Talk with someone you trust today"},
			"emotional_support":   {"Tell me what feels heaviest right now", "Take one small step this week"},
			"stress_management":   {"Pick one stress-reduction practice to try", "Schedule a job-search-free evening"},
			"confidence_building": {"List three accomplishments you're proud of"},
		},
	},
	Mai: {
		ID:             Mai,
		SpecialistType: "resume_specialist",
		Description:    "resume, LinkedIn, and career-transition guidance",
		Capabilities:   []string{"resume_review", "interview_prep", "career_transition"},
		Intents:        []string{"resume_help", "interview_prep", "career_transition", "linkedin_optimization"},
		DefaultIntent:  "career_transition",
		FallbackKeywords: map[string]string{
			"resume":    "resume_help",
			"interview": "interview_prep",
			"linkedin":  "linkedin_optimization",
		},
		BaseConfidence: 0.7,
		ConfidenceAdjustments: map[string]float64{
			"resume_help": 0.15,
		},
		NextActions: map[string][]string{
			"resume_help":           {"Share a resume bullet to rework", "Add a climate-targeted summary line"},
			"interview_prep":        {"Practice your 'why climate' story", "Run a mock interview question"},
			"career_transition":     {"Map your top three transferable skills", "Pick a target climate sector"},
			"linkedin_optimization": {"Update your headline with your target sector"},
		},
		Tools: []string{"resume_parser"},
	},
	Marcus: {
		ID:             Marcus,
		SpecialistType: "veterans_transition_specialist",
		Description:    "veteran career transitions into the climate economy",
		Capabilities:   []string{"mos_translation", "va_benefits", "veteran_transition"},
		Intents:        []string{"mos_translation", "va_benefits", "transition_planning", "veteran_networking"},
		DefaultIntent:  "transition_planning",
		FallbackKeywords: map[string]string{
			"mos":     "mos_translation",
			"gi bill": "va_benefits",
			"va ":     "va_benefits",
			"network": "veteran_networking",
		},
		BaseConfidence: 0.7,
		ConfidenceAdjustments: map[string]float64{
			"mos_translation": 0.15,
		},
		NextActions: map[string][]string{
			"mos_translation":     {"Share your MOS and years of service", "Review matching civilian titles"},
			"va_benefits":         {"Check your GI Bill eligibility", "Look into VR&E Chapter 31"},
			"transition_planning": {"Set a 12-month target role", "Build a quarter-by-quarter plan"},
			"veteran_networking":  {"Join Veterans in Sustainability"},
		},
	},
	Liv: {
		ID:             Liv,
		SpecialistType: "international_specialist",
		Description:    "international professionals: visas and credential recognition",
		Capabilities:   []string{"visa_guidance", "credential_evaluation", "international_positioning"},
		Intents:        []string{"visa_guidance", "credential_evaluation", "international_job_search"},
		DefaultIntent:  "international_job_search",
		FallbackKeywords: map[string]string{
			"visa":       "visa_guidance",
			"h-1b":       "visa_guidance",
			"credential": "credential_evaluation",
			"degree":     "credential_evaluation",
		},
		BaseConfidence: 0.65,
		ConfidenceAdjustments: map[string]float64{
			"visa_guidance": 0.1,
		},
		NextActions: map[string][]string{
			"visa_guidance":            {"Consult an immigration attorney", "List employers with sponsorship history"},
			"credential_evaluation":    {"Start a WES or ECE evaluation", "Check FE exam eligibility"},
			"international_job_search": {"Highlight your international markets and languages"},
		},
	},
	Miguel: {
		ID:             Miguel,
		SpecialistType: "environmental_justice_specialist",
		Description:    "environmental justice and community-centered climate careers",
		Capabilities:   []string{"community_organizing", "environmental_justice", "equity_policy"},
		Intents:        []string{"community_organizing", "environmental_justice_careers", "policy_equity"},
		DefaultIntent:  "environmental_justice_careers",
		FallbackKeywords: map[string]string{
			"organizing": "community_organizing",
			"justice":    "environmental_justice_careers",
			"equity":     "policy_equity",
		},
		BaseConfidence: 0.65,
		NextActions: map[string][]string{
			"community_organizing":          {"Quantify your campaign outcomes", "List coalitions you've worked with"},
			"environmental_justice_careers": {"Name the communities you work with", "Explore Justice40-funded roles"},
			"policy_equity":                 {"Highlight your community engagement experience"},
		},
	},
	Jasmine: {
		ID:             Jasmine,
		SpecialistType: "youth_pathways_specialist",
		Description:    "early-career and youth pathways into climate work",
		Capabilities:   []string{"internships", "entry_level_search", "education_pathways"},
		Intents:        []string{"internships", "entry_level", "education_pathways", "first_job_search"},
		DefaultIntent:  "entry_level",
		FallbackKeywords: map[string]string{
			"internship": "internships",
			"student":    "education_pathways",
			"degree":     "education_pathways",
			"first job":  "first_job_search",
		},
		BaseConfidence: 0.65,
		NextActions: map[string][]string{
			"internships":        {"Pick two sectors to target", "Apply to fifteen programs"},
			"entry_level":        {"Apply when you meet 60% of requirements", "Frame coursework as outcomes"},
			"education_pathways": {"Compare certificate and degree options"},
			"first_job_search":   {"Set up a Climatebase profile", "Draft your two-line climate story"},
		},
	},
	Lauren: {
		ID:             Lauren,
		SpecialistType: "climate_careers_specialist",
		Description:    "climate-economy landscape: sectors, roles, and salaries",
		Capabilities:   []string{"green_jobs", "sector_knowledge", "salary_data"},
		Intents:        []string{"green_jobs", "renewable_energy", "sector_overview", "salary_info"},
		DefaultIntent:  "sector_overview",
		FallbackKeywords: map[string]string{
			"solar":     "renewable_energy",
			"wind":      "renewable_energy",
			"salary":    "salary_info",
			"green job": "green_jobs",
		},
		BaseConfidence: 0.7,
		ConfidenceAdjustments: map[string]float64{
			"sector_overview": 0.1,
		},
		NextActions: map[string][]string{
			"green_jobs":       {"Pick the sector closest to your background", "Search matching employers"},
			"renewable_energy": {"Choose your spot on the renewables stack", "Look at certificate programs"},
			"sector_overview":  {"Pick one sector to explore in depth"},
			"salary_info":      {"Compare salary bands for your target roles"},
		},
		Tools: []string{"partner_search"},
	},
}

// ProfileFor returns the profile for id.
func ProfileFor(id SpecialistID) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}
