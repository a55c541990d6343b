package extract

import (
	"regexp"
	"strings"

	"github.com/farmassist/harvester/internal/catalog"
)

// flagRule maps a criteria flag to the keyword evidence that asserts it.
// Keywords is a disjunction; AllOf terms must additionally all be present
// somewhere in the text for the flag to fire.
type flagRule struct {
	flag     catalog.CriteriaFlag
	keywords []string
	allOf    []string
}

var flagRules = []flagRule{
	{flag: catalog.FlagCropFarming, keywords: []string{"crop", "grain", "wheat", "corn", "soybean", "cotton", "rice", "acres", "planted"}},
	{flag: catalog.FlagLivestock, keywords: []string{"livestock", "cattle", "beef", "dairy", "hog", "swine", "sheep", "goat", "poultry", "chicken", "animal"}},
	{flag: catalog.FlagDairy, keywords: []string{"dairy"}},
	{flag: catalog.FlagOrganic, keywords: []string{"organic"}},
	{flag: catalog.FlagSpecialtyCrops, keywords: []string{"fruit", "vegetable", "specialty crop", "horticulture", "nursery"}},
	{flag: catalog.FlagLivestockBeefCattle, keywords: []string{"beef cattle", "beef", "cow-calf", "feeder cattle", "stocker"}},
	{flag: catalog.FlagLivestockDairyCattle, keywords: []string{"dairy"}},
	{flag: catalog.FlagLivestockHogs, keywords: []string{"hog", "swine", "pig", "pork"}},
	{flag: catalog.FlagLivestockPoultry, keywords: []string{"poultry", "chicken", "turkey", "broiler", "layer", "egg"}},
	{flag: catalog.FlagLivestockSheepGoats, keywords: []string{"sheep", "goat", "lamb", "wool", "mohair"}},
	{flag: catalog.FlagLivestockBees, keywords: []string{"bee", "honey", "apiculture", "pollinator", "hive"}},
	{flag: catalog.FlagLivestockAquaculture, keywords: []string{"fish", "aquaculture", "catfish", "trout", "tilapia", "shrimp"}},
	{flag: catalog.FlagSpecialtyFruits, keywords: []string{"apple", "orange", "grape", "berry", "cherry", "peach", "pear", "plum", "citrus", "fruit tree"}},
	{flag: catalog.FlagSpecialtyVegetables, keywords: []string{"tomato", "potato", "onion", "lettuce", "carrot", "pepper", "cabbage", "cucumber", "vegetable"}},
	{flag: catalog.FlagSpecialtyNuts, keywords: []string{"almond", "walnut", "pecan", "hazelnut", "pistachio", "nut tree"}},
	{flag: catalog.FlagSpecialtyNursery, keywords: []string{"nursery", "greenhouse", "ornamental", "floriculture", "flower"}},
	{flag: catalog.FlagForageHay, keywords: []string{"hay", "alfalfa", "forage", "pasture", "grazing", "rangeland", "grassland"}},
	{flag: catalog.FlagForestry, keywords: []string{"timber", "forest", "tree farm", "woodland", "silviculture"}},

	{flag: catalog.FlagBeginningFarmer, keywords: []string{"beginning farmer", "new farmer", "first-time farmer"}},
	{flag: catalog.FlagVeteran, keywords: []string{"veteran", "military"}},
	{flag: catalog.FlagYoungFarmer, keywords: []string{"young", "youth"}},
	{flag: catalog.FlagSociallyDisadvantaged, keywords: []string{"socially disadvantaged", "minority"}},

	{flag: catalog.FlagIsLoan, keywords: []string{"loan", "financing", "borrow", "credit"}},
	{flag: catalog.FlagIsInsurance, keywords: []string{"insurance", "risk management"}},
	{flag: catalog.FlagIsPayment, keywords: []string{"payment", "subsidy", "assistance", "compensation"}},
	{flag: catalog.FlagIsConservation, keywords: []string{"conservation", "environmental", "soil health", "water quality", "crp", "csp", "eqip"}},
	{flag: catalog.FlagIsDisaster, keywords: []string{"disaster", "emergency", "drought", "flood", "hurricane", "wildfire", "pandemic"}},

	{flag: catalog.FlagPriceLoss, keywords: []string{"price loss", "market loss"}},
	{flag: catalog.FlagYieldLoss, keywords: []string{"yield loss", "crop loss"}},
	{flag: catalog.FlagForageLoss, allOf: []string{"forage", "loss"}},
	{flag: catalog.FlagTreeLoss, keywords: []string{"loss", "damage"}, allOf: []string{"tree"}},
	{flag: catalog.FlagEquipment, keywords: []string{"equipment", "machinery"}},
	{flag: catalog.FlagStorage, keywords: []string{"storage", "facility"}},
	{flag: catalog.FlagLandPurchase, allOf: []string{"purchase", "land"}},
	{flag: catalog.FlagRequiresOwnership, keywords: []string{"owner", "ownership", "own the land", "land owner"}},
	{flag: catalog.FlagAllowsTenants, keywords: []string{"tenant", "renter", "lease", "landlord"}},

	{flag: catalog.FlagCropWheat, keywords: []string{"wheat"}},
	{flag: catalog.FlagCropCorn, keywords: []string{"corn", "maize"}},
	{flag: catalog.FlagCropSoybeans, keywords: []string{"soybean", "soy bean"}},
	{flag: catalog.FlagCropCotton, keywords: []string{"cotton"}},
	{flag: catalog.FlagCropRice, keywords: []string{"rice"}},
	{flag: catalog.FlagCropBarley, keywords: []string{"barley"}},
	{flag: catalog.FlagCropSorghum, keywords: []string{"sorghum", "milo"}},
	{flag: catalog.FlagCropOats, keywords: []string{"oat"}},
	{flag: catalog.FlagCropCanola, keywords: []string{"canola", "rapeseed"}},
	{flag: catalog.FlagCropSunflower, keywords: []string{"sunflower"}},
	{flag: catalog.FlagCropPeanuts, keywords: []string{"peanut"}},
	{flag: catalog.FlagCropSugar, keywords: []string{"sugar beet", "sugarbeet", "sugar cane", "sugarcane"}},
	{flag: catalog.FlagCropDryBeans, keywords: []string{"dry bean", "dry pea", "lentil", "chickpea", "pulse"}},
}

// Markers that turn a keyword hit into an explicit exclusion. Exclusions are
// phrased both ways on program pages ("excluding tobacco" and "tobacco is not
// eligible"), so both sides of the keyword are checked within a short window.
var negationBefore = []string{
	"not ", "no ", "without ", "except ", "excluding ", "other than ",
	"ineligible", "does not include", "not available to", "not available for",
}

var negationAfter = []string{
	"not eligible", "ineligible", "do not qualify", "does not qualify",
	"may not", "are excluded", "is excluded",
}

const negationWindow = 48

var whitespacePattern = regexp.MustCompile(`\s+`)

// ParseCriteria maps free text onto the criteria vocabulary. A keyword hit
// asserts True; a hit inside a negated clause asserts False; flags with no
// hits stay absent, which downstream code reads as Unknown. True beats False
// when the same flag gets both kinds of evidence, since an exclusion clause
// usually narrows an otherwise covered category.
func ParseCriteria(text string) catalog.CriteriaSet {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lower := strings.ToLower(whitespacePattern.ReplaceAllString(text, " "))

	set := make(catalog.CriteriaSet)
	for _, rule := range flagRules {
		if !allTermsPresent(lower, rule.allOf) {
			continue
		}
		keywords := rule.keywords
		if len(keywords) == 0 {
			keywords = rule.allOf
		}
		affirmed, negated := scanKeywords(lower, keywords)
		switch {
		case affirmed:
			set[rule.flag] = catalog.True
		case negated:
			set[rule.flag] = catalog.False
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func allTermsPresent(lower string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// scanKeywords finds every occurrence of every keyword and classifies each as
// affirmed or negated based on the preceding text window.
func scanKeywords(lower string, keywords []string) (affirmed, negated bool) {
	for _, kw := range keywords {
		offset := 0
		for {
			idx := strings.Index(lower[offset:], kw)
			if idx < 0 {
				break
			}
			pos := offset + idx
			if isNegated(lower, pos, pos+len(kw)) {
				negated = true
			} else {
				affirmed = true
			}
			offset = pos + len(kw)
		}
	}
	return affirmed, negated
}

func isNegated(lower string, pos, end int) bool {
	start := pos - negationWindow
	if start < 0 {
		start = 0
	}
	before := lower[start:pos]
	// Clause boundaries reset negation scope.
	if cut := strings.LastIndexAny(before, ".;"); cut >= 0 {
		before = before[cut+1:]
	}
	for _, marker := range negationBefore {
		if strings.Contains(before, marker) {
			return true
		}
	}

	stop := end + negationWindow
	if stop > len(lower) {
		stop = len(lower)
	}
	after := lower[end:stop]
	if cut := strings.IndexAny(after, ".;"); cut >= 0 {
		after = after[:cut]
	}
	for _, marker := range negationAfter {
		if strings.Contains(after, marker) {
			return true
		}
	}
	return false
}
